package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/health-notifier/internal/model"
)

// DefaultBatchSize caps a FetchPending call when no positive limit is given.
const DefaultBatchSize = 50

// errorColumn is optional in older schemas.
const errorColumn = "error_message"

// pgUndefinedColumn is the SQLSTATE for a reference to a missing column.
const pgUndefinedColumn = "42703"

// ErrNotificationNotFound is returned when no row matches, including a
// status write against a notification that is no longer pending.
var ErrNotificationNotFound = errors.New("notification not found")

// Repository provides methods to interact with notifications table.
type Repository struct {
	db  *dbpg.DB
	now func() time.Time
}

// NewRepository creates a new notification repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

const selectWithRecipient = `
		SELECT n.id, n.user_id, n.type, n.title, n.message, n.delivery_method, n.status,
		       n.scheduled_at, n.created_at, n.updated_at,
		       u.name, u.mobile_number, u.language_preference
		FROM notifications n
		JOIN users u ON u.id = n.user_id`

// FetchPending returns notifications that are pending and due, oldest first.
//
// At most limit rows are returned; a non-positive limit means DefaultBatchSize.
func (r *Repository) FetchPending(ctx context.Context, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}

	query := selectWithRecipient + `
		WHERE n.status = $1 AND n.scheduled_at <= $2
		ORDER BY n.created_at ASC
		LIMIT $3;
    `

	rows, err := r.db.QueryContext(ctx, query, model.StatusPending, r.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanWithRecipient(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending notifications: %w", err)
	}

	return notifications, nil
}

// MarkStatus moves a pending notification to a terminal status.
//
// The write only applies while the row is still pending. If the schema has no
// error_message column the update is retried once without it.
func (r *Repository) MarkStatus(ctx context.Context, id uuid.UUID, upd model.StatusUpdate) error {
	withError := upd.ErrorMessage != ""

	err := r.markStatus(ctx, id, upd, withError)
	if err != nil && withError && isMissingErrorColumn(err) {
		zlog.Logger.Warn().Err(err).Str("id", id.String()).Msg("error_message column missing, retrying without it")
		err = r.markStatus(ctx, id, upd, false)
	}

	return err
}

func (r *Repository) markStatus(ctx context.Context, id uuid.UUID, upd model.StatusUpdate, withError bool) error {
	query, args := buildStatusUpdate(id, upd, r.now().UTC(), withError)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}

	rows, _ := res.RowsAffected()

	if rows == 0 {
		return ErrNotificationNotFound
	}

	return nil
}

// buildStatusUpdate renders the UPDATE for upd. Columns come in a fixed order
// so the statement text is stable for a given set of fields.
func buildStatusUpdate(id uuid.UUID, upd model.StatusUpdate, now time.Time, withError bool) (string, []any) {
	sets := []string{"status = $1", "updated_at = $2"}
	args := []any{upd.Status, now}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if withError {
		add(errorColumn, upd.ErrorMessage)
	}
	if upd.SentAt != nil {
		add("sent_at", upd.SentAt.UTC())
	}
	if upd.DeliveryMethodUsed != "" {
		add("delivery_method_used", upd.DeliveryMethodUsed)
	}
	if upd.PhoneNumber != "" {
		add("phone_number", upd.PhoneNumber)
	}

	args = append(args, id, model.StatusPending)
	query := fmt.Sprintf(
		"UPDATE notifications SET %s WHERE id = $%d AND status = $%d;",
		strings.Join(sets, ", "), len(args)-1, len(args),
	)

	return query, args
}

func isMissingErrorColumn(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUndefinedColumn && strings.Contains(pqErr.Message, errorColumn)
	}

	return strings.Contains(err.Error(), errorColumn)
}

// CreateBatch inserts notifications in a single transaction and returns them
// with their generated IDs and timestamps.
func (r *Repository) CreateBatch(ctx context.Context, notifications []model.Notification) ([]model.Notification, error) {
	query := `
		INSERT INTO notifications (
		    user_id, admin_id, type, title, message, delivery_method, status, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at;
    `

	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := make([]model.Notification, 0, len(notifications))
	for _, n := range notifications {
		err := tx.QueryRowContext(
			ctx, query, n.UserID, n.AdminID, n.Type, n.Title, n.Message, n.DeliveryMethod, n.Status, n.ScheduledAt,
		).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to create notification: %w", err)
		}

		created = append(created, n)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit notifications: %w", err)
	}

	return created, nil
}

// GetStatusByID retrieves the status of a notification by its ID.
func (r *Repository) GetStatusByID(ctx context.Context, id uuid.UUID) (model.Status, error) {
	query := `
		SELECT status
		FROM notifications
		WHERE id = $1;
    `

	var status model.Status
	err := r.db.Master.QueryRowContext(ctx, query, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotificationNotFound
		}

		return "", fmt.Errorf("failed to get notification status: %w", err)
	}

	return status, nil
}

// ListPending returns a page of pending notifications, newest first, and the
// total number of pending notifications.
func (r *Repository) ListPending(ctx context.Context, page, limit int) ([]model.Notification, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM notifications WHERE status = $1;`
	if err := r.db.Master.QueryRowContext(ctx, countQuery, model.StatusPending).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count pending notifications: %w", err)
	}

	query := selectWithRecipient + `
		WHERE n.status = $1
		ORDER BY n.created_at DESC
		LIMIT $2 OFFSET $3;
    `

	rows, err := r.db.QueryContext(ctx, query, model.StatusPending, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanWithRecipient(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list pending notifications: %w", err)
	}

	return notifications, total, nil
}

// Stats counts notifications created since the given time.
func (r *Repository) Stats(ctx context.Context, since time.Time) (model.Stats, error) {
	query := `
		SELECT status, delivery_method, COUNT(*)
		FROM notifications
		WHERE created_at >= $1
		GROUP BY status, delivery_method;
    `

	var stats model.Stats

	rows, err := r.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return stats, fmt.Errorf("failed to get notification stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status model.Status
			method model.DeliveryMethod
			count  int
		)
		if err := rows.Scan(&status, &method, &count); err != nil {
			return stats, fmt.Errorf("failed to scan notification stats: %w", err)
		}

		stats.Add(status, method, count)
	}

	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("failed to get notification stats: %w", err)
	}

	return stats, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanWithRecipient(rows rowScanner) ([]model.Notification, error) {
	var notifications []model.Notification

	for rows.Next() {
		var (
			n                    model.Notification
			name, mobile, langPr sql.NullString
		)

		if err := rows.Scan(
			&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.DeliveryMethod, &n.Status,
			&n.ScheduledAt, &n.CreatedAt, &n.UpdatedAt,
			&name, &mobile, &langPr,
		); err != nil {
			return nil, err
		}

		n.Recipient = &model.Recipient{
			Name:               name.String,
			MobileNumber:       mobile.String,
			LanguagePreference: langPr.String,
		}
		if n.Recipient.LanguagePreference == "" {
			n.Recipient.LanguagePreference = model.DefaultLanguage
		}

		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return notifications, nil
}
