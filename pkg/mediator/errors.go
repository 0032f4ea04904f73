package mediator

import "github.com/cockroachdb/errors"

var (
	ErrNilNotification = errors.New("mediator: nil notification")
	ErrNilHandler      = errors.New("mediator: nil handler")
	ErrNoKinds         = errors.New("mediator: handler accepts no kinds")
	ErrDuplicateName   = errors.New("mediator: handler name already registered")
	ErrTypeMismatch    = errors.New("mediator: notification type not accepted by handler")
	ErrHandlerPanic    = errors.New("mediator: handler panicked")
	ErrNotFound        = errors.New("mediator: registration not found")
)
