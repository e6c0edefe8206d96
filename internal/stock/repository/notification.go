package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore-backend/pkg/database"
	"github.com/clinicore/clinicore-backend/pkg/errors"
)

// Notification types
const (
	NotificationBatchExpiring = "batch_expiring"
	NotificationBatchExpired  = "batch_expired"
	NotificationStockDepleted = "stock_depleted"
)

// StockNotification records a condition the external notification module
// was told about. It doubles as the dedup index: one unresolved row per
// (type, medicine, batch) keeps the scanner from re-alerting every cycle.
type StockNotification struct {
	ID               string     `db:"id" json:"id"`
	NotificationType string     `db:"notification_type" json:"notification_type"`
	MedicineID       string     `db:"medicine_id" json:"medicine_id"`
	MedicineName     *string    `db:"medicine_name" json:"medicine_name,omitempty"`
	BatchID          *string    `db:"batch_id" json:"batch_id,omitempty"`
	Message          string     `db:"message" json:"message"`
	AcknowledgedBy   *string    `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedAt       *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// NotificationRepository handles stock notification persistence
type NotificationRepository struct {
	db *database.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *database.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create creates a new notification
func (r *NotificationRepository) Create(ctx context.Context, n *StockNotification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_notifications (
			id, notification_type, medicine_id, medicine_name, batch_id, message
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	return r.db.QueryRowxContext(ctx, query,
		n.ID, n.NotificationType, n.MedicineID, n.MedicineName, n.BatchID, n.Message,
	).Scan(&n.CreatedAt)
}

// ExistsUnresolved checks whether an unresolved notification of the given
// type already exists for the entity
func (r *NotificationRepository) ExistsUnresolved(ctx context.Context, notificationType, medicineID string, batchID *string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM stock_notifications
			WHERE notification_type = $1 AND medicine_id = $2
			AND ($3::uuid IS NULL OR batch_id = $3)
			AND resolved_at IS NULL
		)
	`
	if err := r.db.GetContext(ctx, &exists, query, notificationType, medicineID, batchID); err != nil {
		return false, err
	}
	return exists, nil
}

// List lists notifications, unresolved first, newest first
func (r *NotificationRepository) List(ctx context.Context, includeResolved bool) ([]*StockNotification, error) {
	var notifications []*StockNotification
	query := `
		SELECT * FROM stock_notifications
		WHERE $1 OR resolved_at IS NULL
		ORDER BY resolved_at IS NULL DESC, created_at DESC
	`
	if err := r.db.SelectContext(ctx, &notifications, query, includeResolved); err != nil {
		return nil, err
	}
	return notifications, nil
}

// Acknowledge marks a notification as seen by a user
func (r *NotificationRepository) Acknowledge(ctx context.Context, id, userID string) error {
	query := `
		UPDATE stock_notifications
		SET acknowledged_by = $2, acknowledged_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("notification")
	}
	return nil
}

// Resolve marks notifications for an entity as resolved, so the condition
// can re-alert if it recurs
func (r *NotificationRepository) Resolve(ctx context.Context, notificationType, medicineID string, batchID *string) error {
	query := `
		UPDATE stock_notifications
		SET resolved_at = NOW()
		WHERE notification_type = $1 AND medicine_id = $2
		AND ($3::uuid IS NULL OR batch_id = $3)
		AND resolved_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, notificationType, medicineID, batchID)
	return err
}
