package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/rs/zerolog/log"
)

// MaxLineBytes bounds a single newline-delimited envelope
const MaxLineBytes = 16 << 20 // 16MB

// ReaderTopic is the topic reported for events read from a stream
const ReaderTopic = "stdin"

func init() {
	Register(cfg.SourceStdin, func(*cfg.Configuration) (Source, error) {
		return NewReaderSource(os.Stdin), nil
	})
}

// ReaderSource reads newline-delimited envelopes from an io.Reader.
// Blank lines are skipped; every other line is one event, even if malformed.
type ReaderSource struct {
	r io.Reader
}

// NewReaderSource creates a source over r
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

// Run delivers one event per line until EOF or ctx is done. Cancellation
// does not wait for a blocked read; the reading goroutine exits with the
// next line or the end of input.
func (s *ReaderSource) Run(ctx context.Context, h Handler) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- append([]byte(nil), line...):
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	count := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("failed to read envelopes: %w", err)
				}
				log.Info().Int("events", count).Msg("Reader source reached end of input")
				return nil
			}
			count++

			if err := h(ctx, Event{Topic: ReaderTopic, Value: line}); err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("handler rejected line %d: %w", count, err)
			}
		}
	}
}

// Close is a no-op; the caller owns the reader
func (s *ReaderSource) Close() error {
	return nil
}
