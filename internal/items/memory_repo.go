package items

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stockroom-app/stockroom/internal/shared"
)

// MemoryRepository keeps items in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]Item
	now    func() time.Time
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[int64]Item), now: time.Now}
}

// List returns all items, newest first.
func (r *MemoryRepository) List(context.Context) ([]Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Item, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Page returns one page of items and the total count.
func (r *MemoryRepository) Page(ctx context.Context, limit, offset int) ([]Item, int, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, 0, err
	}
	total := len(all)
	if offset >= total {
		return []Item{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// Get fetches one item.
func (r *MemoryRepository) Get(_ context.Context, id int64) (*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &item, nil
}

// Create inserts an item.
func (r *MemoryRepository) Create(_ context.Context, in Input, image string) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := r.now().UTC()
	item := Item{ID: r.nextID, Name: in.Name, Price: in.Price, Quantity: in.Quantity, Image: image, CreatedAt: now, UpdatedAt: now}
	r.items[item.ID] = item
	return &item, nil
}

// Update writes in and optionally a new image key.
func (r *MemoryRepository) Update(_ context.Context, id int64, in Input, image *string) (*Item, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, "", shared.ErrNotFound
	}
	var replaced string
	if image != nil && *image != item.Image {
		replaced = item.Image
		item.Image = *image
	}
	item.Name, item.Price, item.Quantity = in.Name, in.Price, in.Quantity
	item.UpdatedAt = r.now().UTC()
	r.items[id] = item
	return &item, replaced, nil
}

// Delete removes the item and returns its last state.
func (r *MemoryRepository) Delete(_ context.Context, id int64) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	delete(r.items, id)
	return &item, nil
}

// Count returns the number of stored items.
func (r *MemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

var _ Repository = (*MemoryRepository)(nil)
