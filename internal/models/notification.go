package models

import "time"

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

// DeliveryTask is a queued hand-off to an external collaborator
// (notification delivery or refund).
type DeliveryTask struct {
	ID          int64      `json:"id"`
	TaskType    string     `json:"task_type"`
	Reference   string     `json:"reference"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}
