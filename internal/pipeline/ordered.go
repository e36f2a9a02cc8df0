package pipeline

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/flarebyte/scribe/internal/source"
)

// pending is a slot in the reorder window. done receives exactly one result.
type pending struct {
	index int
	done  chan result
}

// processOrdered runs up to Workers records at once. A single producer reads
// the source and hands out slots in input order; this goroutine commits them
// in that same order, so appends never reorder. At most 2×Workers slots wait
// for commit.
func (r *runner) processOrdered(ctx context.Context, it source.Iterator) error {
	workers := r.job.Workers
	window := make(chan pending, 2*workers)
	sem := semaphore.NewWeighted(int64(workers))

	// stop unblocks the producer when the committer gives up early.
	pctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(pctx)

	g.Go(func() error {
		defer close(window)
		index := r.summary.Offset
		for {
			if err := gctx.Err(); err != nil {
				return nil
			}
			e, err := r.next(it)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			p := pending{index: index, done: make(chan result, 1)}
			if !e.OK() {
				res := r.handle(ctx, index, e)
				p.done <- res
				if !res.drop {
					index++
				}
			} else {
				if err := sem.Acquire(gctx, 1); err != nil {
					return nil
				}
				index++
				g.Go(func() error {
					defer sem.Release(1)
					// pctx, not gctx: a read error must let queued records
					// finish and commit.
					p.done <- r.handle(pctx, p.index, e)
					return nil
				})
			}
			select {
			case window <- p:
			case <-gctx.Done():
				return nil
			}
		}
	})

	var commitErr error
	for p := range window {
		res := <-p.done
		if err := r.commit(p.index, res); err != nil {
			commitErr = err
			break
		}
	}
	if commitErr != nil {
		stop()
		for p := range window {
			<-p.done
		}
	}
	if err := g.Wait(); err != nil && commitErr == nil {
		return err
	}
	if commitErr != nil {
		return commitErr
	}
	return ctx.Err()
}
