package items

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/stockroom-app/stockroom/internal/observability"
	"github.com/stockroom-app/stockroom/internal/shared"
)

// Service coordinates item persistence with image storage.
type Service struct {
	repo      Repository
	images    ImageStore
	cleanup   CleanupQueue
	validator *validator.Validate
	logger    *slog.Logger
	metrics   *observability.Metrics
	audit     shared.AuditRecorder
}

// NewService builds Service. A nil cleanup queue deletes images inline.
func NewService(repo Repository, images ImageStore, cleanup CleanupQueue, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cleanup == nil {
		cleanup = NewInlineCleanup(images)
	}
	return &Service{
		repo:      repo,
		images:    images,
		cleanup:   cleanup,
		validator: validator.New(),
		logger:    logger,
		metrics:   metrics,
	}
}

// List returns all items with resolved image URLs.
func (s *Service) List(ctx context.Context) ([]Item, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].ImageURL = s.images.URL(list[i].Image)
	}
	return list, nil
}

// Page returns one page of items with resolved image URLs.
func (s *Service) Page(ctx context.Context, page, perPage int) ([]Item, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	list, total, err := s.repo.Page(ctx, p.PerPage, p.Offset())
	if err != nil {
		return nil, p, err
	}
	for i := range list {
		list[i].ImageURL = s.images.URL(list[i].Image)
	}
	return list, shared.NewPagination(p.Page, p.PerPage, total), nil
}

// WithAudit records item changes to rec, attributed to the request actor.
func (s *Service) WithAudit(rec shared.AuditRecorder) *Service {
	s.audit = rec
	return s
}

// Get returns one item or shared.ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (*Item, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withURL(item), nil
}

// Create validates in, stores the optional upload and inserts the item. The
// stored image is discarded if the insert fails.
func (s *Service) Create(ctx context.Context, in Input, upload *Upload) (*Item, error) {
	in, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	key, err := s.store(ctx, upload)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.Create(ctx, in, key)
	if err != nil {
		s.discard(ctx, key)
		return nil, err
	}
	s.record(ctx, "item.create", item, nil)
	return s.withURL(item), nil
}

// Update validates in and applies it. A new upload replaces the current
// image, which is then scheduled for cleanup; without one the image is kept.
func (s *Service) Update(ctx context.Context, id int64, in Input, upload *Upload) (*Item, error) {
	in, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	key, err := s.store(ctx, upload)
	if err != nil {
		return nil, err
	}
	var image *string
	if key != "" {
		image = &key
	}
	item, replaced, err := s.repo.Update(ctx, id, in, image)
	if err != nil {
		s.discard(ctx, key)
		return nil, err
	}
	s.discard(ctx, replaced)
	s.record(ctx, "item.update", item, map[string]any{"image_replaced": replaced != ""})
	return s.withURL(item), nil
}

// Delete removes the item and schedules its image for cleanup.
func (s *Service) Delete(ctx context.Context, id int64) (*Item, error) {
	item, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	s.discard(ctx, item.Image)
	s.record(ctx, "item.delete", item, nil)
	return s.withURL(item), nil
}

func (s *Service) validate(in Input) (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Price = strings.TrimSpace(in.Price)
	if err := s.validator.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field()))
			}
			return in, fmt.Errorf("%w: invalid %s", shared.ErrValidation, strings.Join(fields, ", "))
		}
		return in, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	return in, nil
}

func (s *Service) store(ctx context.Context, upload *Upload) (string, error) {
	if upload == nil || upload.Body == nil {
		return "", nil
	}
	if upload.Size > MaxUploadSize {
		return "", ErrImageTooLarge
	}
	key, err := s.images.Save(ctx, upload.Filename, upload.Body)
	if err != nil {
		return "", err
	}
	return key, nil
}

// discard hands key to the cleanup queue, deleting inline if enqueueing fails.
func (s *Service) discard(ctx context.Context, key string) {
	if key == "" {
		return
	}
	err := s.cleanup.EnqueueImageCleanup(ctx, key)
	if err == nil {
		s.metrics.ObserveImageCleanup("queued", "success")
		return
	}
	s.logger.Warn("enqueue image cleanup", slog.String("key", key), slog.Any("error", err))
	if err := s.images.Delete(ctx, key); err != nil {
		s.metrics.ObserveImageCleanup("inline", "failure")
		s.logger.Error("delete image", slog.String("key", key), slog.Any("error", err))
		return
	}
	s.metrics.ObserveImageCleanup("inline", "success")
}

func (s *Service) record(ctx context.Context, action string, item *Item, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["name"] = item.Name
	entry := shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "item",
		EntityID: strconv.FormatInt(item.ID, 10),
		Meta:     meta,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) withURL(item *Item) *Item {
	item.ImageURL = s.images.URL(item.Image)
	return item
}
