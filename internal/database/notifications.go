package database

import (
	"context"
	"fmt"

	"labreserve/internal/models"
)

type notificationRepo struct{ q queryer }

const notificationColumns = `id, user_id, title, message, type, read, created_at`

func (r notificationRepo) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO notifications (`+notificationColumns+`) VALUES (`+placeholders(7)+`)`,
		n.ID,
		n.UserID,
		n.Title,
		n.Message,
		n.Type,
		n.Read,
		n.CreatedAt.UTC(),
	)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (r notificationRepo) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err != nil {
		return nil, translate(err)
	}
	return n, nil
}

func (r notificationRepo) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return affected(res)
}

func (r notificationRepo) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	res, err := r.q.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (r notificationRepo) ListUserNotifications(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var n models.Notification
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.Read, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
