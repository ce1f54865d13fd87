package items

import "context"

// CleanupQueue accepts image keys that are no longer referenced by any item.
type CleanupQueue interface {
	EnqueueImageCleanup(ctx context.Context, key string) error
}

// InlineCleanup deletes images synchronously. It is used when no job queue
// is configured.
type InlineCleanup struct {
	store ImageStore
}

// NewInlineCleanup constructs an InlineCleanup over store.
func NewInlineCleanup(store ImageStore) *InlineCleanup {
	return &InlineCleanup{store: store}
}

// EnqueueImageCleanup deletes key immediately.
func (c *InlineCleanup) EnqueueImageCleanup(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

var _ CleanupQueue = (*InlineCleanup)(nil)
