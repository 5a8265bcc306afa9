package calc

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunBatch evaluates independent requests with at most workers running at
// once. Results are returned in request order. The first failure cancels
// the evaluations that have not finished and is returned.
func (c *Calculator) RunBatch(ctx context.Context, reqs []Request, workers int) ([]*Result, error) {
	if workers <= 0 {
		workers = 1
	}

	results := make([]*Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, req := range reqs {
		g.Go(func() error {
			res, err := c.Evaluate(gctx, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
