package realtime

import (
	"context"
	"errors"

	"github.com/iliyamo/parking-spot-reservation/internal/model"
)

// Publisher sends a committed change somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
}

// Fanout publishes to every target and joins the failures.  One target
// failing does not stop the others.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev model.ChangeEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
