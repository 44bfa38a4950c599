package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

// Pool runs per-site tasks on a fixed number of workers. Sites are handed
// out in batches so that one dispatch covers several small sites.
type Pool struct {
	workers   int
	batchSize int
	logger    *slog.Logger
}

// NewPool creates a Pool. Non-positive sizes fall back to one worker and
// the default batch size.
func NewPool(workers, batchSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if batchSize < 1 {
		batchSize = domain.DefaultParams().BatchSize
	}
	return &Pool{workers: workers, batchSize: batchSize, logger: logger}
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// BatchSize returns the number of sites per dispatch.
func (p *Pool) BatchSize() int { return p.batchSize }

// Dispatch runs task once for every site and collects exactly one result per
// site, in completion order. A task that panics is replaced by
// fallback(site). Once ctx is done no further batches are dispatched; the
// results gathered so far are returned with ctx.Err().
func Dispatch[R any](
	ctx context.Context,
	p *Pool,
	sites []domain.SiteID,
	task func(context.Context, domain.SiteID) R,
	fallback func(domain.SiteID) R,
) ([]R, error) {
	var (
		mu      sync.Mutex
		results = make([]R, 0, len(sites))
		g       errgroup.Group
	)
	g.SetLimit(p.workers)

	for _, batch := range batches(sites, p.batchSize) {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			for _, site := range batch {
				r := runOne(ctx, p.logger, site, task, fallback)
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}

func runOne[R any](
	ctx context.Context,
	logger *slog.Logger,
	site domain.SiteID,
	task func(context.Context, domain.SiteID) R,
	fallback func(domain.SiteID) R,
) (r R) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("site task panicked", "site_id", site, "panic", rec)
			r = fallback(site)
		}
	}()
	return task(ctx, site)
}

func batches(sites []domain.SiteID, size int) [][]domain.SiteID {
	out := make([][]domain.SiteID, 0, (len(sites)+size-1)/size)
	for start := 0; start < len(sites); start += size {
		end := min(start+size, len(sites))
		out = append(out, sites[start:end])
	}
	return out
}
