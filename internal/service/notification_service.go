package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/events"
	"labreserve/internal/metrics"
	"labreserve/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NotificationService produces notification records. Delivery happens
// elsewhere: committed records are published as events for the worker.
type NotificationService struct {
	store  domain.Store
	bus    domain.EventPublisher
	logger *zerolog.Logger
	now    Clock
}

func NewNotificationService(store domain.Store, bus domain.EventPublisher, logger *zerolog.Logger) *NotificationService {
	return &NotificationService{
		store:  store,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

func (s *NotificationService) SetClock(clock Clock) { s.now = clock }

// Emit appends an unread notification inside the caller's unit of work.
func (s *NotificationService) Emit(ctx context.Context, repos domain.Repositories, userID, title, message, notificationType string) (*models.Notification, error) {
	n := &models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      notificationType,
		CreatedAt: s.now().UTC(),
	}
	if err := repos.Notifications().CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return n, nil
}

// Publish hands committed notifications to delivery. Call it only after the
// emitting transaction committed.
func (s *NotificationService) Publish(notifications ...*models.Notification) {
	for _, n := range notifications {
		if n == nil {
			continue
		}
		metrics.IncNotification(n.Type)
		if s.bus == nil {
			continue
		}
		if err := s.bus.PublishJSON(events.EventNotificationCreated, n); err != nil {
			s.logger.Error().Err(err).Str("notification_id", n.ID).Msg("publish notification error")
		}
	}
}

// MarkRead marks a notification read for its recipient. Marking an already
// read notification succeeds.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID, userID string) error {
	const op = "MarkRead"
	return s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		n, err := tx.Notifications().GetNotification(ctx, notificationID)
		if err != nil {
			return storeErr(op, "notification", notificationID, err)
		}
		if n.UserID != userID {
			return domain.Permission(op, "notification %s belongs to another user", notificationID)
		}
		if n.Read {
			return nil
		}
		return storeErr(op, "notification", notificationID, tx.Notifications().MarkNotificationRead(ctx, notificationID))
	})
}

// MarkAllRead marks every unread notification of userID and returns how
// many changed. Only the recipient may do this.
func (s *NotificationService) MarkAllRead(ctx context.Context, actorID, userID string) (int, error) {
	const op = "MarkAllRead"
	if actorID != userID {
		return 0, domain.Permission(op, "cannot mark notifications of another user")
	}

	var count int
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if _, err := activeUser(ctx, tx, op, userID); err != nil {
			return err
		}
		var err error
		count, err = tx.Notifications().MarkAllNotificationsRead(ctx, userID)
		return storeErr(op, "notification", userID, err)
	})
	return count, err
}

func (s *NotificationService) ListUserNotifications(ctx context.Context, actorID, userID string, unreadOnly bool) ([]*models.Notification, error) {
	const op = "ListUserNotifications"
	if err := requireSelfOrAdmin(ctx, s.store, op, actorID, userID); err != nil {
		return nil, err
	}
	list, err := s.store.Notifications().ListUserNotifications(ctx, userID, unreadOnly)
	if err != nil {
		return nil, storeErr(op, "notification", userID, err)
	}
	return list, nil
}

// BroadcastRequest is an admin announcement to an audience.
type BroadcastRequest struct {
	Audience string
	Title    string
	Message  string
	Type     string
}

// Broadcast sends one notification to every active user in the audience and
// returns the number of recipients.
func (s *NotificationService) Broadcast(ctx context.Context, adminID string, req BroadcastRequest) (int, error) {
	const op = "Broadcast"

	if req.Type == "" {
		req.Type = models.NotificationInfo
	}
	fields := map[string]string{}
	if !models.IsValidAudience(req.Audience) {
		fields["audience"] = "must be one of all, internal, external, admins"
	}
	if !models.IsValidNotificationType(req.Type) {
		fields["type"] = "must be one of info, success, warning, error"
	}
	if strings.TrimSpace(req.Title) == "" {
		fields["title"] = "is required"
	}
	if strings.TrimSpace(req.Message) == "" {
		fields["message"] = "is required"
	}
	if len(fields) > 0 {
		return 0, domain.ValidationFields(op, fields)
	}

	var sent []*models.Notification
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if _, err := requireAdmin(ctx, tx, op, adminID); err != nil {
			return err
		}
		users, err := tx.Users().ListUsers(ctx, models.UserFilter{Status: models.UserActive})
		if err != nil {
			return storeErr(op, "user", "", err)
		}
		for _, u := range users {
			if !u.InAudience(req.Audience) {
				continue
			}
			n, err := s.Emit(ctx, tx, u.ID, strings.TrimSpace(req.Title), strings.TrimSpace(req.Message), req.Type)
			if err != nil {
				return err
			}
			sent = append(sent, n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.Publish(sent...)
	s.logger.Info().Str("admin_id", adminID).Str("audience", req.Audience).Int("recipients", len(sent)).Msg("Broadcast sent")
	return len(sent), nil
}
