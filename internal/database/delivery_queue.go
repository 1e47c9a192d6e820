package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"labreserve/internal/models"
)

const taskColumns = `id, task_type, reference, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (db *DB) CreateTask(ctx context.Context, task *models.DeliveryTask) error {
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	query := `INSERT INTO delivery_queue (task_type, reference, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		task.TaskType,
		task.Reference,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now

	return nil
}

func (db *DB) GetPendingTasks(ctx context.Context, limit int) ([]models.DeliveryTask, error) {
	query := `SELECT ` + taskColumns + ` FROM delivery_queue
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.TaskStatusPending, models.TaskStatusRetry, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending delivery tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (db *DB) UpdateTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now().UTC()

	var lastError *string
	if errMsg != "" {
		lastError = &errMsg
	}
	if nextRetryAt != nil {
		utc := nextRetryAt.UTC()
		nextRetryAt = &utc
	}

	switch status {
	case models.TaskStatusRetry:
		query = `UPDATE delivery_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, id}
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		query = `UPDATE delivery_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, &now, id}
	default:
		query = `UPDATE delivery_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, id}
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update delivery task status: %w", err)
	}
	return affected(res)
}

func (db *DB) GetFailedTasks(ctx context.Context) ([]models.DeliveryTask, error) {
	query := `SELECT ` + taskColumns + ` FROM delivery_queue WHERE status = ? ORDER BY created_at DESC, id DESC`
	rows, err := db.QueryContext(ctx, query, models.TaskStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed delivery tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]models.DeliveryTask, error) {
	var tasks []models.DeliveryTask
	for rows.Next() {
		var t models.DeliveryTask
		err := rows.Scan(
			&t.ID, &t.TaskType, &t.Reference, &t.Payload, &t.Status, &t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
