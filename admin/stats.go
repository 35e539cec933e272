package admin

import (
	"sort"
	"sync/atomic"

	"github.com/maxpert/cdcrelay/cdc"
	"github.com/puzpuzpuz/xsync/v3"
)

// UnknownTable labels envelopes without a source block
const UnknownTable = "<unknown>"

// TableStats counts normalized envelopes for one source table
type TableStats struct {
	ops      [5]atomic.Int64
	filtered atomic.Int64
}

// TableSnapshot is a point-in-time copy of TableStats
type TableSnapshot struct {
	Table      string           `json:"table"`
	Operations map[string]int64 `json:"operations"`
	Filtered   int64            `json:"filtered"`
	Total      int64            `json:"total"`
}

// Stats tracks per-table operation counts across all pipeline workers
type Stats struct {
	tables *xsync.MapOf[string, *TableStats]
}

// NewStats creates an empty Stats
func NewStats() *Stats {
	return &Stats{tables: xsync.NewMapOf[string, *TableStats]()}
}

// RecordEvent counts one envelope against its table
func (s *Stats) RecordEvent(table string, op cdc.OperationType, filtered bool) {
	if table == "" {
		table = UnknownTable
	}

	ts, _ := s.tables.LoadOrCompute(table, func() *TableStats { return &TableStats{} })
	if filtered {
		ts.filtered.Add(1)
		return
	}
	ts.ops[opIndex(op)].Add(1)
}

func opIndex(op cdc.OperationType) int {
	switch op {
	case cdc.OpCreate:
		return 0
	case cdc.OpUpdate:
		return 1
	case cdc.OpDelete:
		return 2
	case cdc.OpRead:
		return 3
	default:
		return 4
	}
}

// Table returns the snapshot for one table
func (s *Stats) Table(table string) (TableSnapshot, bool) {
	ts, ok := s.tables.Load(table)
	if !ok {
		return TableSnapshot{}, false
	}
	return ts.snapshot(table), true
}

// Tables returns snapshots ordered by table name, starting after the given
// table. hasMore reports whether more tables follow the returned page.
func (s *Stats) Tables(after string, limit int) (page []TableSnapshot, hasMore bool) {
	names := make([]string, 0, s.tables.Size())
	s.tables.Range(func(name string, _ *TableStats) bool {
		if name > after {
			names = append(names, name)
		}
		return true
	})
	sort.Strings(names)

	if limit > 0 && len(names) > limit {
		names = names[:limit]
		hasMore = true
	}

	page = make([]TableSnapshot, 0, len(names))
	for _, name := range names {
		if snap, ok := s.Table(name); ok {
			page = append(page, snap)
		}
	}
	return page, hasMore
}

// Totals sums operation counts over every table
func (s *Stats) Totals() TableSnapshot {
	total := TableSnapshot{Operations: make(map[string]int64)}
	s.tables.Range(func(name string, ts *TableStats) bool {
		snap := ts.snapshot(name)
		for op, n := range snap.Operations {
			total.Operations[op] += n
		}
		total.Filtered += snap.Filtered
		total.Total += snap.Total
		return true
	})
	return total
}

func (ts *TableStats) snapshot(table string) TableSnapshot {
	snap := TableSnapshot{
		Table:      table,
		Operations: make(map[string]int64),
		Filtered:   ts.filtered.Load(),
	}
	for _, op := range cdc.OperationTypes() {
		n := ts.ops[opIndex(op)].Load()
		snap.Operations[op.String()] = n
		snap.Total += n
	}
	return snap
}
