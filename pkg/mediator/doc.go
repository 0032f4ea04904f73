// Package mediator routes notifications to registered handlers.
//
// Handlers are registered explicitly against the notification kinds they
// accept. At publish time a notification matches every registration for its
// own kind and for each of its ancestors (see notification.Lineage), which is
// how a handler written for a general notification serves more specific ones.
//
// Publish invokes matching handlers one at a time on the caller's goroutine,
// in registration order unless an Order hook rearranges them, and stops at the
// first failure. The failure is returned exactly as the handler produced it.
package mediator
