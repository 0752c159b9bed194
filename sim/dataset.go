package sim

import (
	"context"
	"math/rand/v2"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Generate draws count problems concurrently. Problem i is drawn from its own
// PCG stream seeded with (seed, i), so the result does not depend on scheduling.
func Generate(ctx context.Context, conf Config, count int, seed uint64) ([]Problem, error) {
	if count < 0 {
		return nil, errors.Errorf("cannot generate %d problems", count)
	}
	retVal := make([]Problem, count)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := 0; i < count; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := NewProblem(conf, rand.NewPCG(seed, uint64(i)))
			if err != nil {
				return errors.WithMessagef(err, "problem %d", i)
			}
			retVal[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return retVal, nil
}
