package sensor

import (
	"context"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Gather polls every sensor concurrently and merges the batches in sensor
// order. A failing sensor does not discard the rest of the batch; its error
// is combined into the returned error for the caller to log.
func Gather(ctx context.Context, sensors []RangeSensor, position, rotation r3.Vector) ([]Reading, error) {
	if len(sensors) == 0 {
		return nil, nil
	}

	batches := make([][]Reading, len(sensors))
	var mu sync.Mutex
	var sensorErrs error

	group, groupCtx := errgroup.WithContext(ctx)
	for i, s := range sensors {
		i, s := i, s
		group.Go(func() error {
			readings, err := s.Update(groupCtx, position, rotation)
			if err != nil {
				mu.Lock()
				sensorErrs = multierr.Combine(sensorErrs, errors.Wrapf(err, "sensor %q", s.Name()))
				mu.Unlock()
				return nil
			}
			batches[i] = readings
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var merged []Reading
	for _, batch := range batches {
		merged = append(merged, batch...)
	}
	return merged, sensorErrs
}
