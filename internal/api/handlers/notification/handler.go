package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/health-notifier/internal/api/dto"
	"github.com/aliskhannn/health-notifier/internal/api/respond"
	"github.com/aliskhannn/health-notifier/internal/model"
	notifrepo "github.com/aliskhannn/health-notifier/internal/repository/notification"
	notifsvc "github.com/aliskhannn/health-notifier/internal/service/notification"
	"github.com/aliskhannn/health-notifier/internal/worker"
)

// notificationService defines the business operations the Handler depends on.
//
//go:generate mockgen -source=handler.go -destination=../../../mocks/api/handlers/notification/mock.go -package=mocks
type notificationService interface {
	Enqueue(ctx context.Context, req notifsvc.EnqueueRequest) ([]model.Notification, error)
	GetStatusByID(ctx context.Context, id uuid.UUID) (model.Status, error)
	ListPending(ctx context.Context, page, limit int) ([]model.Notification, int, error)
	Stats(ctx context.Context) (model.Stats, error)
}

// dispatcher is the operational surface of the notification processor.
type dispatcher interface {
	Status() worker.Status
	ProcessPending(ctx context.Context) error
}

// Handler handles admin and status HTTP requests for notifications.
type Handler struct {
	service   notificationService
	processor dispatcher
	validator *validator.Validate
}

// NewHandler creates a new Handler instance.
func NewHandler(s notificationService, p dispatcher, v *validator.Validate) *Handler {
	return &Handler{service: s, processor: p, validator: v}
}

// SendResponse is the result of a successful enqueue.
type SendResponse struct {
	Count         int                  `json:"count"`
	Notifications []model.Notification `json:"notifications"`
	Message       string               `json:"message"`
}

// PendingResponse is one page of pending notifications.
type PendingResponse struct {
	Notifications []model.Notification `json:"notifications"`
	Total         int                  `json:"total"`
	Page          int                  `json:"page"`
	Limit         int                  `json:"limit"`
}

// StatsResponse holds notification counters for the reporting period.
type StatsResponse struct {
	Stats  model.Stats `json:"stats"`
	Period string      `json:"period"`
}

// ProcessResponse acknowledges a manual pass.
type ProcessResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse reports the status of a single notification.
type StatusResponse struct {
	ID     uuid.UUID    `json:"id"`
	Status model.Status `json:"status"`
}

// Send queues a notification for every user in the request.
func (h *Handler) Send(c *ginext.Context) {
	var req dto.SendRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	ids := make([]uuid.UUID, 0, len(req.UserIDs))
	for _, raw := range req.UserIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid user id %q", raw))
			return
		}
		ids = append(ids, id)
	}

	created, err := h.service.Enqueue(c.Request.Context(), notifsvc.EnqueueRequest{
		UserIDs:        ids,
		Type:           model.Type(req.Type),
		Title:          req.Title,
		Message:        req.Message,
		DeliveryMethod: model.DeliveryMethod(req.DeliveryMethod),
		ScheduledAt:    req.ScheduledAt,
	})
	if err != nil {
		var invalid *notifsvc.InvalidUsersError
		switch {
		case errors.As(err, &invalid):
			users := make([]dto.InvalidUser, 0, len(invalid.Users))
			for _, u := range invalid.Users {
				users = append(users, dto.InvalidUser{ID: u.ID.String(), Name: u.Name})
			}
			zlog.Logger.Warn().Err(err).Msg("rejected notifications for users without phone")
			respond.FailWithDetails(c.Writer, http.StatusBadRequest, err, map[string]any{"invalid_users": users})
		case errors.Is(err, notifsvc.ErrInvalidDeliveryMethod):
			respond.Fail(c.Writer, http.StatusBadRequest, err)
		default:
			zlog.Logger.Error().Err(err).Msg("failed to queue notifications")
			respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		}
		return
	}

	method := req.DeliveryMethod
	if method == "" {
		method = string(model.DeliveryWhatsApp)
	}

	respond.Created(c.Writer, SendResponse{
		Count:         len(created),
		Notifications: created,
		Message:       fmt.Sprintf("Notification queued for %d users via %s", len(created), method),
	})
}

// ProcessorStatus reports the state of the notification processor.
func (h *Handler) ProcessorStatus(c *ginext.Context) {
	respond.OK(c.Writer, h.processor.Status())
}

// Process runs one dispatch pass and waits for it to finish.
//
// It answers 409 when a pass is already running.
func (h *Handler) Process(c *ginext.Context) {
	if h.processor.Status().IsProcessing {
		respond.Fail(c.Writer, http.StatusConflict, worker.ErrAlreadyProcessing)
		return
	}

	zlog.Logger.Info().Msg("admin manually triggered notification processing")

	// The pass must not be abandoned if the client disconnects.
	err := h.processor.ProcessPending(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		if errors.Is(err, worker.ErrAlreadyProcessing) {
			respond.Fail(c.Writer, http.StatusConflict, err)
			return
		}

		zlog.Logger.Error().Err(err).Msg("manual notification processing failed")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("failed to trigger notification processing"))
		return
	}

	respond.OK(c.Writer, ProcessResponse{
		Message:   "Notification processing triggered successfully",
		Timestamp: time.Now().UTC(),
	})
}

// Pending lists pending notifications, newest first.
func (h *Handler) Pending(c *ginext.Context) {
	page := queryInt(c, "page", 1)
	limit := min(queryInt(c, "limit", notifsvc.DefaultPageLimit), notifsvc.MaxPageLimit)

	notifications, total, err := h.service.ListPending(c.Request.Context(), page, limit)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to list pending notifications")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	if notifications == nil {
		notifications = []model.Notification{}
	}

	respond.OK(c.Writer, PendingResponse{
		Notifications: notifications,
		Total:         total,
		Page:          page,
		Limit:         limit,
	})
}

// Stats returns notification counters for the last seven days.
func (h *Handler) Stats(c *ginext.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to get notification stats")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, StatsResponse{Stats: stats, Period: "Last 7 days"})
}

// GetStatus handles HTTP GET requests to retrieve the status of a notification.
func (h *Handler) GetStatus(c *ginext.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		zlog.Logger.Error().Err(err).Interface("idStr", idStr).Msg("failed to parse id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return
	}

	if id == uuid.Nil {
		zlog.Logger.Warn().Msg("missing id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing id"))
		return
	}

	status, err := h.service.GetStatusByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, notifrepo.ErrNotificationNotFound) {
			zlog.Logger.Warn().Interface("id", id).Err(err).Msg("notification not found")
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("notification not found"))
			return
		}

		zlog.Logger.Error().Err(err).Interface("id", id).Msg("failed to get notification status")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, StatusResponse{ID: id, Status: status})
}

// Health reports liveness and the WhatsApp channel readiness.
func (h *Handler) Health(c *ginext.Context) {
	st := h.processor.Status()

	respond.OK(c.Writer, map[string]any{
		"status":    "OK",
		"timestamp": st.Timestamp,
		"whatsapp":  map[string]bool{"isReady": st.ChannelReady},
	})
}

func queryInt(c *ginext.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}

	return v
}
