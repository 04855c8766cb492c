// Package notify announces finished evaluations to external channels.
package notify

import (
	"context"

	"github.com/vocahire/vocahire/internal/store"
)

// Notifier delivers a finished evaluation somewhere a recruiter will see it.
// Delivery failures are reported but never affect the stored result.
type Notifier interface {
	Notify(ctx context.Context, e store.Evaluation) error
}

// Nop discards every notification.
type Nop struct{}

// Notify implements [Notifier].
func (Nop) Notify(context.Context, store.Evaluation) error { return nil }

var _ Notifier = Nop{}
