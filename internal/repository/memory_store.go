package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/models"
)

// MemoryStore is an in-process domain.Store. Transactions are serialized and
// work on a copy of the dataset that replaces the live one on commit.
type MemoryStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data *memoryData

	taskMu     sync.Mutex
	tasks      []models.DeliveryTask
	nextTaskID int64
}

type memoryData struct {
	labs          map[string]*models.Lab
	bookings      map[string]*models.Booking
	users         map[string]*models.User
	notifications map[string]*models.Notification
}

func newMemoryData() *memoryData {
	return &memoryData{
		labs:          make(map[string]*models.Lab),
		bookings:      make(map[string]*models.Booking),
		users:         make(map[string]*models.User),
		notifications: make(map[string]*models.Notification),
	}
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		labs:          make(map[string]*models.Lab, len(d.labs)),
		bookings:      make(map[string]*models.Booking, len(d.bookings)),
		users:         make(map[string]*models.User, len(d.users)),
		notifications: make(map[string]*models.Notification, len(d.notifications)),
	}
	for k, v := range d.labs {
		c.labs[k] = v.Clone()
	}
	for k, v := range d.bookings {
		c.bookings[k] = v.Clone()
	}
	for k, v := range d.users {
		c.users[k] = v.Clone()
	}
	for k, v := range d.notifications {
		c.notifications[k] = v.Clone()
	}
	return c
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &memoryTx{store: s, data: snapshot}); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = snapshot
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Labs() domain.LabRepository { return memoryLabs{memoryRepos{store: s}} }

func (s *MemoryStore) Bookings() domain.BookingRepository {
	return memoryBookings{memoryRepos{store: s}}
}

func (s *MemoryStore) Users() domain.UserRepository { return memoryUsers{memoryRepos{store: s}} }

func (s *MemoryStore) Notifications() domain.NotificationRepository {
	return memoryNotifications{memoryRepos{store: s}}
}

type memoryTx struct {
	store *MemoryStore
	data  *memoryData
}

func (t *memoryTx) Labs() domain.LabRepository {
	return memoryLabs{memoryRepos{store: t.store, tx: t.data}}
}

func (t *memoryTx) Bookings() domain.BookingRepository {
	return memoryBookings{memoryRepos{store: t.store, tx: t.data}}
}

func (t *memoryTx) Users() domain.UserRepository {
	return memoryUsers{memoryRepos{store: t.store, tx: t.data}}
}

func (t *memoryTx) Notifications() domain.NotificationRepository {
	return memoryNotifications{memoryRepos{store: t.store, tx: t.data}}
}

// memoryRepos reads the live dataset under a read lock, or the transaction
// copy when tx is set. Writes outside a transaction run in their own.
type memoryRepos struct {
	store *MemoryStore
	tx    *memoryData
}

func (r memoryRepos) view(fn func(d *memoryData)) {
	if r.tx != nil {
		fn(r.tx)
		return
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	fn(r.store.data)
}

func (r memoryRepos) update(ctx context.Context, fn func(d *memoryData) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	return r.store.WithinTx(ctx, func(_ context.Context, tx domain.Repositories) error {
		return fn(tx.(*memoryTx).data)
	})
}

type memoryLabs struct{ memoryRepos }

func (r memoryLabs) GetLab(_ context.Context, id string) (*models.Lab, error) {
	var lab *models.Lab
	r.view(func(d *memoryData) { lab = d.labs[id].Clone() })
	if lab == nil {
		return nil, domain.ErrRecordNotFound
	}
	return lab, nil
}

func (r memoryLabs) ListLabs(_ context.Context, filter models.LabFilter) ([]*models.Lab, error) {
	var labs []*models.Lab
	r.view(func(d *memoryData) {
		for _, lab := range d.labs {
			if filter.Status != "" && lab.Status != filter.Status {
				continue
			}
			if !lab.MatchesSearch(filter.Search) {
				continue
			}
			labs = append(labs, lab.Clone())
		}
	})
	sort.Slice(labs, func(i, j int) bool {
		if labs[i].CreatedAt.Equal(labs[j].CreatedAt) {
			return labs[i].ID < labs[j].ID
		}
		return labs[i].CreatedAt.Before(labs[j].CreatedAt)
	})
	return labs, nil
}

func (r memoryLabs) CreateLab(ctx context.Context, lab *models.Lab) error {
	return r.update(ctx, func(d *memoryData) error {
		if _, ok := d.labs[lab.ID]; ok {
			return domain.ErrDuplicateRecord
		}
		d.labs[lab.ID] = lab.Clone()
		return nil
	})
}

func (r memoryLabs) UpdateLab(ctx context.Context, lab *models.Lab) error {
	return r.update(ctx, func(d *memoryData) error {
		if _, ok := d.labs[lab.ID]; !ok {
			return domain.ErrRecordNotFound
		}
		d.labs[lab.ID] = lab.Clone()
		return nil
	})
}

func (r memoryLabs) DeleteLab(ctx context.Context, id string) error {
	return r.update(ctx, func(d *memoryData) error {
		if _, ok := d.labs[id]; !ok {
			return domain.ErrRecordNotFound
		}
		delete(d.labs, id)
		return nil
	})
}

type memoryBookings struct{ memoryRepos }

func (r memoryBookings) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	var b *models.Booking
	r.view(func(d *memoryData) { b = d.bookings[id].Clone() })
	if b == nil {
		return nil, domain.ErrRecordNotFound
	}
	return b, nil
}

func (r memoryBookings) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return r.update(ctx, func(d *memoryData) error {
		if _, ok := d.bookings[booking.ID]; ok {
			return domain.ErrDuplicateRecord
		}
		if booking.Version == 0 {
			booking.Version = 1
		}
		d.bookings[booking.ID] = booking.Clone()
		return nil
	})
}

func (r memoryBookings) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	return r.update(ctx, func(d *memoryData) error {
		stored, ok := d.bookings[booking.ID]
		if !ok {
			return domain.ErrRecordNotFound
		}
		if stored.Version != booking.Version {
			return domain.ErrConcurrentModification
		}
		booking.Version++
		d.bookings[booking.ID] = booking.Clone()
		return nil
	})
}

func (r memoryBookings) ListLabBookings(_ context.Context, labID string, date time.Time) ([]*models.Booking, error) {
	day := models.DateOnly(date)
	var out []*models.Booking
	r.view(func(d *memoryData) {
		for _, b := range d.bookings {
			if b.LabID == labID && models.DateOnly(b.Date).Equal(day) {
				out = append(out, b.Clone())
			}
		}
	})
	sortBookings(out)
	return out, nil
}

func (r memoryBookings) ListBookings(_ context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	var out []*models.Booking
	r.view(func(d *memoryData) {
		for _, b := range d.bookings {
			if filter.Matches(b) {
				out = append(out, b.Clone())
			}
		}
	})
	sortBookings(out)
	return out, nil
}

func sortBookings(bookings []*models.Booking) {
	sort.Slice(bookings, func(i, j int) bool {
		a, b := bookings[i], bookings[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
}

type memoryUsers struct{ memoryRepos }

func (r memoryUsers) GetUser(_ context.Context, id string) (*models.User, error) {
	var u *models.User
	r.view(func(d *memoryData) { u = d.users[id].Clone() })
	if u == nil {
		return nil, domain.ErrRecordNotFound
	}
	return u, nil
}

func (r memoryUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	var u *models.User
	r.view(func(d *memoryData) {
		for _, candidate := range d.users {
			if models.NormalizeEmail(candidate.Email) == email {
				u = candidate.Clone()
				return
			}
		}
	})
	if u == nil {
		return nil, domain.ErrRecordNotFound
	}
	return u, nil
}

func (r memoryUsers) CreateUser(ctx context.Context, user *models.User) error {
	return r.update(ctx, func(d *memoryData) error {
		if _, ok := d.users[user.ID]; ok {
			return domain.ErrDuplicateRecord
		}
		email := models.NormalizeEmail(user.Email)
		for _, existing := range d.users {
			if models.NormalizeEmail(existing.Email) == email {
				return domain.ErrDuplicateRecord
			}
		}
		d.users[user.ID] = user.Clone()
		return nil
	})
}

func (r memoryUsers) UpdateUser(ctx context.Context, user *models.User) error {
	return r.update(ctx, func(d *memoryData) error {
		if _, ok := d.users[user.ID]; !ok {
			return domain.ErrRecordNotFound
		}
		d.users[user.ID] = user.Clone()
		return nil
	})
}

func (r memoryUsers) ListUsers(_ context.Context, filter models.UserFilter) ([]*models.User, error) {
	var out []*models.User
	r.view(func(d *memoryData) {
		for _, u := range d.users {
			if filter.Role != "" && u.Role != filter.Role {
				continue
			}
			if filter.Status != "" && u.Status != filter.Status {
				continue
			}
			if !u.MatchesSearch(filter.Search) {
				continue
			}
			out = append(out, u.Clone())
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type memoryNotifications struct{ memoryRepos }

func (r memoryNotifications) CreateNotification(ctx context.Context, n *models.Notification) error {
	return r.update(ctx, func(d *memoryData) error {
		if _, ok := d.notifications[n.ID]; ok {
			return domain.ErrDuplicateRecord
		}
		d.notifications[n.ID] = n.Clone()
		return nil
	})
}

func (r memoryNotifications) GetNotification(_ context.Context, id string) (*models.Notification, error) {
	var n *models.Notification
	r.view(func(d *memoryData) { n = d.notifications[id].Clone() })
	if n == nil {
		return nil, domain.ErrRecordNotFound
	}
	return n, nil
}

func (r memoryNotifications) MarkNotificationRead(ctx context.Context, id string) error {
	return r.update(ctx, func(d *memoryData) error {
		n, ok := d.notifications[id]
		if !ok {
			return domain.ErrRecordNotFound
		}
		n.Read = true
		return nil
	})
}

func (r memoryNotifications) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	count := 0
	err := r.update(ctx, func(d *memoryData) error {
		for _, n := range d.notifications {
			if n.UserID == userID && !n.Read {
				n.Read = true
				count++
			}
		}
		return nil
	})
	return count, err
}

func (r memoryNotifications) ListUserNotifications(_ context.Context, userID string, unreadOnly bool) ([]*models.Notification, error) {
	var out []*models.Notification
	r.view(func(d *memoryData) {
		for _, n := range d.notifications {
			if n.UserID != userID || (unreadOnly && n.Read) {
				continue
			}
			out = append(out, n.Clone())
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CreateTask implements domain.TaskQueue.
func (s *MemoryStore) CreateTask(_ context.Context, task *models.DeliveryTask) error {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	s.nextTaskID++
	task.ID = s.nextTaskID
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	s.tasks = append(s.tasks, *task)
	return nil
}

func (s *MemoryStore) GetPendingTasks(_ context.Context, limit int) ([]models.DeliveryTask, error) {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	now := time.Now()
	var out []models.DeliveryTask
	for _, t := range s.tasks {
		if t.Status != models.TaskStatusPending && t.Status != models.TaskStatusRetry {
			continue
		}
		if t.NextRetryAt != nil && t.NextRetryAt.After(now) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateTaskStatus(_ context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	for i := range s.tasks {
		t := &s.tasks[i]
		if t.ID != id {
			continue
		}
		t.Status = status
		if errMsg != "" {
			msg := errMsg
			t.LastError = &msg
		} else {
			t.LastError = nil
		}
		t.NextRetryAt = nextRetryAt
		switch status {
		case models.TaskStatusRetry:
			t.RetryCount++
		case models.TaskStatusCompleted, models.TaskStatusFailed:
			now := time.Now()
			t.ProcessedAt = &now
		}
		return nil
	}
	return domain.ErrRecordNotFound
}

func (s *MemoryStore) GetFailedTasks(_ context.Context) ([]models.DeliveryTask, error) {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	var out []models.DeliveryTask
	for _, t := range s.tasks {
		if t.Status == models.TaskStatusFailed {
			out = append(out, t)
		}
	}
	return out, nil
}
