package notify

import (
	"context"
	"errors"
)

type Notifier interface {
	Notify(ctx context.Context, resourceID string) error
}

// Multi forwards each notification to every member and joins their errors.
type Multi []Notifier

func NewMulti(members ...Notifier) Multi {
	out := make(Multi, 0, len(members))
	for _, m := range members {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

func (m Multi) Notify(ctx context.Context, resourceID string) error {
	var errs []error
	for _, member := range m {
		if err := member.Notify(ctx, resourceID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
