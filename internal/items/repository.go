package items

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockroom-app/stockroom/internal/platform/db"
	"github.com/stockroom-app/stockroom/internal/shared"
)

// Repository persists items.
type Repository interface {
	List(ctx context.Context) ([]Item, error)
	// Page returns up to limit items after offset, newest first, and the
	// total number of items.
	Page(ctx context.Context, limit, offset int) ([]Item, int, error)
	Get(ctx context.Context, id int64) (*Item, error)
	Create(ctx context.Context, in Input, image string) (*Item, error)
	// Update writes in and, when image is non-nil, the new image key. It
	// returns the updated item and the image key it replaced, if any.
	Update(ctx context.Context, id int64, in Input, image *string) (*Item, string, error)
	Delete(ctx context.Context, id int64) (*Item, error)
}

const itemColumns = `id, name, price, quantity, image, created_at, updated_at`

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// List returns all items, newest first.
func (r *PGRepository) List(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("items: list: %w", err)
	}
	return collectItems(rows)
}

// Page returns one page of items and the total count.
func (r *PGRepository) Page(ctx context.Context, limit, offset int) ([]Item, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM items`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("items: count: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("items: page: %w", err)
	}
	list, err := collectItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	defer rows.Close()
	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("items: list rows: %w", err)
	}
	return out, nil
}

// Get fetches one item.
func (r *PGRepository) Get(ctx context.Context, id int64) (*Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
}

// Create inserts an item.
func (r *PGRepository) Create(ctx context.Context, in Input, image string) (*Item, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO items (name, price, quantity, image)
VALUES ($1, $2, $3, $4)
RETURNING `+itemColumns, in.Name, in.Price, in.Quantity, image)
	return scanItem(row)
}

// Update locks the row, swaps fields and reports the replaced image.
func (r *PGRepository) Update(ctx context.Context, id int64, in Input, image *string) (*Item, string, error) {
	var (
		updated  *Item
		replaced string
	)
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var current string
		if err := tx.QueryRow(ctx, `SELECT image FROM items WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return shared.ErrNotFound
			}
			return fmt.Errorf("items: lock item: %w", err)
		}
		next := current
		if image != nil && *image != current {
			next = *image
			replaced = current
		}
		item, err := scanItem(tx.QueryRow(ctx, `UPDATE items
SET name = $2, price = $3, quantity = $4, image = $5, updated_at = now()
WHERE id = $1
RETURNING `+itemColumns, id, in.Name, in.Price, in.Quantity, next))
		if err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return updated, replaced, nil
}

// Delete removes the item and returns its last state.
func (r *PGRepository) Delete(ctx context.Context, id int64) (*Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `DELETE FROM items WHERE id = $1 RETURNING `+itemColumns, id))
}

func scanItem(row pgx.Row) (*Item, error) {
	var item Item
	if err := row.Scan(&item.ID, &item.Name, &item.Price, &item.Quantity, &item.Image, &item.CreatedAt, &item.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("items: scan item: %w", err)
	}
	return &item, nil
}

var _ Repository = (*PGRepository)(nil)
