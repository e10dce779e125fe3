package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ckdcare/ckdcare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type notificationRepoPG struct{ pool *pgxpool.Pool }

func NewNotificationRepoPG(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepoPG{pool: pool}
}

func (r *notificationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const notificationCols = `id, user_id, message, severity, is_read, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	if err := row.Scan(&n.ID, &n.UserID, &n.Message, &n.Severity, &n.IsRead, &n.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, message, severity, is_read)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		n.ID, n.UserID, n.Message, n.Severity, n.IsRead).Scan(&n.CreatedAt)
}

func (r *notificationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return scanNotification(r.conn(ctx).QueryRow(ctx,
		`SELECT `+notificationCols+` FROM notifications WHERE id = $1`, id))
}

func (r *notificationRepoPG) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	q := db.NewQuery("notifications", notificationCols)
	q.Eq("user_id", userID)
	if unreadOnly {
		q.Eq("is_read", false)
	}
	q.OrderBy("created_at DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, q.PageSQL(), q.PageArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *notificationRepoPG) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *notificationRepoPG) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *notificationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *notificationRepoPG) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).Scan(&n)
	return n, err
}

func (r *notificationRepoPG) CountUnreadBySeverity(ctx context.Context, severity Severity) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE severity = $1 AND NOT is_read`, severity).Scan(&n)
	return n, err
}
