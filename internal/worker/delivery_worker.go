package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/events"
	"labreserve/internal/metrics"
	"labreserve/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskDeliverNotification = "deliver_notification"
	TaskIssueRefund         = "issue_refund"
)

// Refunder settles refunds owed on cancelled paid bookings.
type Refunder interface {
	ProcessRefund(ctx context.Context, bookingID string) error
}

// DeliveryWorker hands notifications to the sink and refunds to the payment
// provider. Tasks are persisted first and then scheduled through redis or an
// in-memory queue; the task table is polled for retries and for anything the
// queues lost. Delivery is at least once.
type DeliveryWorker struct {
	tasks         domain.TaskQueue
	sink          domain.NotificationSink
	refunds       Refunder
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.DeliveryTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

func NewDeliveryWorker(tasks domain.TaskQueue, sink domain.NotificationSink, refunds Refunder, redisClient *redis.Client, retry RetryPolicy, pollInterval time.Duration, logger *zerolog.Logger) *DeliveryWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &DeliveryWorker{
		tasks:         tasks,
		sink:          sink,
		refunds:       refunds,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.DeliveryTask, 128),
		redisQueueKey: "delivery:queue",
		deadLetterKey: "delivery:deadletter",
		pollInterval:  pollInterval,
		batchSize:     20,
		logger:        logger,
	}
}

// Subscribe enqueues delivery work for bus events.
func (w *DeliveryWorker) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventNotificationCreated, func(e *events.Event) error {
		var n models.Notification
		if err := e.Decode(&n); err != nil {
			return fmt.Errorf("decode notification event: %w", err)
		}
		return w.EnqueueTask(context.Background(), TaskDeliverNotification, n.ID, e.Payload)
	})
	bus.Subscribe(events.EventRefundRequested, func(e *events.Event) error {
		var p events.BookingEventPayload
		if err := e.Decode(&p); err != nil {
			return fmt.Errorf("decode refund event: %w", err)
		}
		return w.EnqueueTask(context.Background(), TaskIssueRefund, p.BookingID, e.Payload)
	})
}

// EnqueueTask persists a task and schedules it.
func (w *DeliveryWorker) EnqueueTask(ctx context.Context, taskType, reference string, payload []byte) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if reference == "" {
		return errors.New("task reference is required")
	}

	task := models.DeliveryTask{
		TaskType:  taskType,
		Reference: reference,
		Payload:   string(payload),
		Status:    models.TaskStatusPending,
	}
	if err := w.tasks.CreateTask(ctx, &task); err != nil {
		return fmt.Errorf("persist delivery task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, &task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("memory queue full, task left to polling")
	}
	return nil
}

// Start runs the worker loop until ctx is done.
func (w *DeliveryWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Delivery worker started")
	defer w.logger.Info().Msg("Delivery worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}
		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.tasks.GetPendingTasks(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending delivery tasks")
		}
		if err != nil || len(tasks) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
			continue
		}
		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *DeliveryWorker) tryLocalQueue() (models.DeliveryTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.DeliveryTask{}, false
	}
}

func (w *DeliveryWorker) tryRedis(ctx context.Context) (models.DeliveryTask, bool) {
	if w.redis == nil {
		return models.DeliveryTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error().Err(err).Msg("redis BRPOP error")
		}
		return models.DeliveryTask{}, false
	}
	if len(res) != 2 {
		return models.DeliveryTask{}, false
	}
	var task models.DeliveryTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.DeliveryTask{}, false
	}
	return task, true
}

func (w *DeliveryWorker) processTask(ctx context.Context, task *models.DeliveryTask) {
	if err := w.handle(ctx, task); err != nil {
		var perm permanentError
		if errors.As(err, &perm) {
			w.failTask(ctx, task, err)
			return
		}
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.tasks.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark task completed")
	}
	metrics.IncDeliveryTask(task.TaskType, "completed")
}

// permanentError marks a task that no retry can fix.
type permanentError struct{ error }

func (w *DeliveryWorker) handle(ctx context.Context, task *models.DeliveryTask) error {
	switch task.TaskType {
	case TaskDeliverNotification:
		var n models.Notification
		if err := json.Unmarshal([]byte(task.Payload), &n); err != nil {
			return permanentError{fmt.Errorf("decode notification payload: %w", err)}
		}
		return w.sink.Deliver(ctx, &n)
	case TaskIssueRefund:
		err := w.refunds.ProcessRefund(ctx, task.Reference)
		if err != nil && (errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrNotFound)) {
			return permanentError{err}
		}
		return err
	default:
		return permanentError{fmt.Errorf("unknown task type: %s", task.TaskType)}
	}
}

func (w *DeliveryWorker) retryOrFail(ctx context.Context, task *models.DeliveryTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	next := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.tasks.UpdateTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark task retry")
	}
	metrics.IncDeliveryTask(task.TaskType, "retry")
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", next).Msg("delivery task will be retried")
}

func (w *DeliveryWorker) failTask(ctx context.Context, task *models.DeliveryTask, cause error) {
	if err := w.tasks.UpdateTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark task failed")
	}
	metrics.IncDeliveryTask(task.TaskType, "failed")
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("task_type", task.TaskType).Str("reference", task.Reference).Msg("delivery task failed")

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.deadLetterKey, task); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
		}
	}
}

func (w *DeliveryWorker) pushRedis(ctx context.Context, key string, task *models.DeliveryTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
