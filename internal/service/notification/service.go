package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/health-notifier/internal/model"
	"github.com/aliskhannn/health-notifier/internal/rabbitmq/queue"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	StatsPeriod      = 7 * 24 * time.Hour

	cacheKeyPrefix = "notification:"
)

var (
	ErrInvalidDeliveryMethod = errors.New("invalid delivery method")
	ErrUsersWithoutPhone     = errors.New("users without mobile numbers")
)

// InvalidUsersError lists the users that cannot receive a WhatsApp notification.
type InvalidUsersError struct {
	Users []model.User
}

func (e *InvalidUsersError) Error() string {
	return fmt.Sprintf("Some users (%d) don't have mobile numbers for WhatsApp delivery", len(e.Users))
}

func (e *InvalidUsersError) Is(target error) bool {
	return target == ErrUsersWithoutPhone
}

//go:generate mockgen -source=service.go -destination=../../mocks/service/notification/mock.go -package=mocks

type notificationRepository interface {
	FetchPending(ctx context.Context, limit int) ([]model.Notification, error)
	MarkStatus(ctx context.Context, id uuid.UUID, upd model.StatusUpdate) error
	CreateBatch(ctx context.Context, notifications []model.Notification) ([]model.Notification, error)
	GetStatusByID(ctx context.Context, id uuid.UUID) (model.Status, error)
	ListPending(ctx context.Context, page, limit int) ([]model.Notification, int, error)
	Stats(ctx context.Context, since time.Time) (model.Stats, error)
}

type userRepository interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.User, error)
}

type eventPublisher interface {
	Publish(evt queue.DispatchEvent, strategy retry.Strategy) error
}

type cache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

// EnqueueRequest is the input of Enqueue.
type EnqueueRequest struct {
	UserIDs        []uuid.UUID
	AdminID        *uuid.UUID
	Type           model.Type
	Title          string
	Message        string
	DeliveryMethod model.DeliveryMethod // defaults to whatsapp
	ScheduledAt    *time.Time           // defaults to now
}

// Service coordinates the notification store with the status cache and the
// outcome event stream.
type Service struct {
	repo     notificationRepository
	users    userRepository
	events   eventPublisher
	cache    cache
	strategy retry.Strategy
	now      func() time.Time
}

func NewService(
	repo notificationRepository,
	users userRepository,
	events eventPublisher,
	cache cache,
	strategy retry.Strategy,
) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		events:   events,
		cache:    cache,
		strategy: strategy,
		now:      time.Now,
	}
}

// Enqueue creates one pending notification per user.
//
// WhatsApp notifications are only accepted when every known user has a
// mobile number; otherwise an *InvalidUsersError is returned and nothing is
// inserted.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) ([]model.Notification, error) {
	method := req.DeliveryMethod
	if method == "" {
		method = model.DeliveryWhatsApp
	}

	if !method.Valid() {
		return nil, fmt.Errorf("%w: must be one of: %s", ErrInvalidDeliveryMethod, joinMethods())
	}

	if method == model.DeliveryWhatsApp {
		if err := s.validateForWhatsApp(ctx, req.UserIDs); err != nil {
			return nil, err
		}
	}

	scheduledAt := s.now().UTC()
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	typ := req.Type
	if typ == "" {
		typ = model.TypeHealthTip
	}

	pending := make([]model.Notification, 0, len(req.UserIDs))
	for _, userID := range req.UserIDs {
		pending = append(pending, model.Notification{
			UserID:         userID,
			AdminID:        req.AdminID,
			Type:           typ,
			Title:          req.Title,
			Message:        req.Message,
			DeliveryMethod: method,
			Status:         model.StatusPending,
			ScheduledAt:    scheduledAt,
		})
	}

	created, err := s.repo.CreateBatch(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("create notifications: %w", err)
	}

	for _, n := range created {
		s.cacheStatus(ctx, n.ID, n.Status)
	}

	zlog.Logger.Info().Int("count", len(created)).Str("method", string(method)).Msg("notifications queued")

	return created, nil
}

func (s *Service) validateForWhatsApp(ctx context.Context, ids []uuid.UUID) error {
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("validate users: %w", err)
	}

	var invalid []model.User
	for _, u := range users {
		if u.MobileNumber == "" {
			invalid = append(invalid, u)
		}
	}

	if len(invalid) > 0 {
		return &InvalidUsersError{Users: invalid}
	}

	return nil
}

// FetchPending returns due pending notifications, oldest first.
func (s *Service) FetchPending(ctx context.Context, limit int) ([]model.Notification, error) {
	notifications, err := s.repo.FetchPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending notifications: %w", err)
	}

	return notifications, nil
}

// MarkStatus persists a terminal status, then refreshes the cache and
// publishes the outcome. Cache and publish failures are only logged.
func (s *Service) MarkStatus(ctx context.Context, id uuid.UUID, upd model.StatusUpdate) error {
	if err := s.repo.MarkStatus(ctx, id, upd); err != nil {
		return fmt.Errorf("mark notification status: %w", err)
	}

	s.cacheStatus(ctx, id, upd.Status)

	evt := queue.DispatchEvent{
		ID:             id,
		Status:         upd.Status,
		DeliveryMethod: upd.DeliveryMethodUsed,
		PhoneNumber:    upd.PhoneNumber,
		Error:          upd.ErrorMessage,
		OccurredAt:     s.now().UTC(),
	}

	if s.events != nil {
		if err := s.events.Publish(evt, s.strategy); err != nil {
			zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to publish dispatch event")
		}
	}

	return nil
}

// GetStatusByID returns the status of a notification, from cache when possible.
func (s *Service) GetStatusByID(ctx context.Context, id uuid.UUID) (model.Status, error) {
	if s.cache != nil {
		status, err := s.cache.GetWithRetry(ctx, s.strategy, cacheKey(id))
		if err == nil {
			return model.Status(status), nil
		}

		if !errors.Is(err, redis.Nil) {
			zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get notification status from cache")
		}
	}

	st, err := s.repo.GetStatusByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get notification status: %w", err)
	}

	s.cacheStatus(ctx, id, st)

	return st, nil
}

// ListPending returns one page of pending notifications and the total count.
// Out-of-range paging values are clamped.
func (s *Service) ListPending(ctx context.Context, page, limit int) ([]model.Notification, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	notifications, total, err := s.repo.ListPending(ctx, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list pending notifications: %w", err)
	}

	return notifications, total, nil
}

// Stats counts notifications created during the last StatsPeriod.
func (s *Service) Stats(ctx context.Context) (model.Stats, error) {
	stats, err := s.repo.Stats(ctx, s.now().Add(-StatsPeriod))
	if err != nil {
		return model.Stats{}, fmt.Errorf("get notification stats: %w", err)
	}

	return stats, nil
}

func (s *Service) cacheStatus(ctx context.Context, id uuid.UUID, status model.Status) {
	if s.cache == nil {
		return
	}

	if err := s.cache.SetWithRetry(ctx, s.strategy, cacheKey(id), string(status)); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache notification")
	}
}

// cacheKey is the Redis key holding the last known status of a notification.
func cacheKey(id uuid.UUID) string {
	return cacheKeyPrefix + id.String()
}

func joinMethods() string {
	names := make([]string, len(model.DeliveryMethods))
	for i, m := range model.DeliveryMethods {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}
