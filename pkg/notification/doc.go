// Package notification defines the in-process notification handler contract.
//
// A Handler processes one notification type. Handle blocks the calling
// goroutine until the work is done and returns the handling error unchanged;
// callers that want a future instead use Start, which returns a Completion.
//
// Ordering metadata (Priority and Level) lives in a separate capability,
// Ordered, so handlers that don't care about ordering don't have to carry it.
// Whatever dispatches notifications decides how the values are interpreted.
//
// # Synchronous handlers
//
// SyncHandler adapts a synchronous body (SyncBody) to the Handler contract.
// The body always runs to completion on the caller's goroutine. The context
// passed to Handle is accepted but never inspected, so a canceled context does
// not stop the body from running.
//
//	h := notification.NewSyncHandler(notification.SyncFunc[UserCreated](func(n UserCreated) error {
//		log.Info("user created", logx.String("id", n.ID))
//		return nil
//	}))
//	h.SetLevel(1)
package notification
