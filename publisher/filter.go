package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
	"github.com/maxpert/cdcrelay/cdc"
)

// GlobFilter filters change events using glob patterns on database and table
type GlobFilter struct {
	tableGlobs    []glob.Glob
	databaseGlobs []glob.Glob
}

// NewGlobFilter creates a new glob-based filter
// Empty patterns match everything
func NewGlobFilter(tablePatterns, dbPatterns []string) (*GlobFilter, error) {
	tableGlobs, err := compileGlobs("table", tablePatterns)
	if err != nil {
		return nil, err
	}

	databaseGlobs, err := compileGlobs("database", dbPatterns)
	if err != nil {
		return nil, err
	}

	return &GlobFilter{tableGlobs: tableGlobs, databaseGlobs: databaseGlobs}, nil
}

// Match returns true if the database and table match the configured patterns
// If no patterns are configured, all events match
func (f *GlobFilter) Match(database, table string) bool {
	if len(f.databaseGlobs) > 0 && !matchAny(f.databaseGlobs, database) {
		return false
	}
	return len(f.tableGlobs) == 0 || matchAny(f.tableGlobs, table)
}

// MatchSource applies the filter to Debezium source metadata. Table patterns
// are tried against both the bare table name and "schema.table".
func (f *GlobFilter) MatchSource(src cdc.SourceInfo) bool {
	if f.Match(src.Database, src.Table) {
		return true
	}
	if src.Schema == "" {
		return false
	}
	return f.Match(src.Database, src.QualifiedTable())
}

// HeaderFilter selects source headers to copy onto output records
type HeaderFilter struct {
	globs []glob.Glob
}

// NewHeaderFilter creates a header filter. Empty patterns match nothing.
func NewHeaderFilter(patterns []string) (*HeaderFilter, error) {
	globs, err := compileGlobs("header", patterns)
	if err != nil {
		return nil, err
	}
	return &HeaderFilter{globs: globs}, nil
}

// Match returns true if the header name matches any configured pattern
func (f *HeaderFilter) Match(name string) bool {
	return matchAny(f.globs, name)
}

func compileGlobs(kind string, patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func matchAny(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
