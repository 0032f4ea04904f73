package mediator

import (
	"context"
	"time"

	"notifyd/pkg/notification"
)

// Observer is told about every handler invocation made by Publish.
// Implementations must be cheap and must not block.
type Observer interface {
	OnHandled(ctx context.Context, e Entry, n notification.Notification, took time.Duration, err error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Entry, n notification.Notification, took time.Duration, err error)

func (f ObserverFunc) OnHandled(ctx context.Context, e Entry, n notification.Notification, took time.Duration, err error) {
	f(ctx, e, n, took, err)
}
