package audit

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// Exporter ships a batch of entries to an external sink. Transport is
// out of scope here; implementations decide where the batch lands.
type Exporter interface {
	Export(ctx context.Context, job string, entries []Entry) error
}

// DefaultExportTimeout bounds a single export job end to end.
const DefaultExportTimeout = 5 * time.Second

// Export snapshots the matching entries and ships them fire-and-forget.
// The returned job reference is immediately usable by the caller; a
// failed export degrades to local-only logging and never blocks or
// fails the caller.
func (l *Log) Export(exporter Exporter, f Filter, timeout time.Duration) string {
	if timeout <= 0 {
		timeout = DefaultExportTimeout
	}
	job := xid.New().String()
	entries := l.Filtered(f)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		r := newRetrier(250*time.Millisecond, 2*time.Second, 2, l.logger)
		err := r.do(ctx, func() error {
			return exporter.Export(ctx, job, entries)
		})
		if err != nil {
			l.logger.Warn().Err(err).Str("job", job).Int("entries", len(entries)).
				Msg("Audit export failed, continuing with local ledger only")
			return
		}
		l.logger.Debug().Str("job", job).Int("entries", len(entries)).Msg("Audit export completed")
	}()

	return job
}

type retrier struct {
	initial    time.Duration
	max        time.Duration
	maxRetries int
	logger     zerolog.Logger
}

func newRetrier(initial, max time.Duration, maxRetries int, logger zerolog.Logger) *retrier {
	if initial <= 0 {
		initial = 250 * time.Millisecond
	}
	if max < initial {
		max = initial
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &retrier{initial: initial, max: max, maxRetries: maxRetries, logger: logger}
}

func (r *retrier) do(ctx context.Context, fn func() error) error {
	var attempt int
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= r.maxRetries {
			return err
		}
		delay := backoffWithJitter(r.initial, r.max, attempt)
		r.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("sleep", delay).Msg("Retrying audit export")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		attempt++
	}
}

func backoffWithJitter(initial, max time.Duration, attempt int) time.Duration {
	b := float64(initial) * math.Pow(2, float64(attempt))
	if b > float64(max) {
		b = float64(max)
	}
	j := b / 2
	return time.Duration(j + rand.Float64()*j)
}
