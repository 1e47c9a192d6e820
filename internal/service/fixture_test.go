package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"labreserve/internal/config"
	"labreserve/internal/database"
	"labreserve/internal/domain"
	"labreserve/internal/events"
	"labreserve/internal/lock"
	"labreserve/internal/models"
	"labreserve/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testNow = time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) CreateIntent(ctx context.Context, b *models.Booking) (string, error) {
	args := m.Called(ctx, b.ID)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) Refund(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b.ID).Error(0)
}

type fixture struct {
	store    domain.Store
	locker   *lock.MemoryLocker
	bus      *events.EventBus
	provider *mockProvider
	clock    *testClock
	notifier *NotificationService
	bookings *BookingService
	payments *PaymentService
	users    *UserService
	labs     *LabService
	reports  *ReportService
	events   *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []*events.Event
}

func (l *eventLog) record(e *events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) count(eventType string) int {
	n := 0
	for _, t := range l.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

// testStores lists the store implementations every lifecycle test runs on.
func testStores() map[string]func(t *testing.T) domain.Store {
	return map[string]func(t *testing.T) domain.Store{
		"memory": func(t *testing.T) domain.Store { return repository.NewMemoryStore() },
		"sqlite": func(t *testing.T) domain.Store {
			logger := zerolog.Nop()
			db, err := database.NewDB(":memory:", &logger)
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			return db
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for name, newStore := range testStores() {
		t.Run(name, func(t *testing.T) {
			fn(t, newFixture(t, newStore(t), BookingPolicy{}))
		})
	}
}

func newFixture(t *testing.T, store domain.Store, policy BookingPolicy) *fixture {
	t.Helper()
	logger := zerolog.Nop()

	f := &fixture{
		store:    store,
		locker:   lock.NewMemoryLocker(),
		bus:      events.NewEventBus(),
		provider: &mockProvider{},
		clock:    &testClock{now: testNow},
		events:   &eventLog{},
	}
	for _, typ := range []string{
		events.EventBookingSubmitted, events.EventBookingApproved, events.EventBookingRejected,
		events.EventBookingModified, events.EventBookingCancelled, events.EventBookingCompleted,
		events.EventPaymentInitiated, events.EventPaymentSucceeded, events.EventPaymentFailed,
		events.EventRefundRequested, events.EventRefundIssued, events.EventNotificationCreated,
	} {
		f.bus.Subscribe(typ, f.events.record)
	}

	f.notifier = NewNotificationService(store, f.bus, &logger)
	f.bookings = NewBookingService(store, f.locker, NewHourlyPricing(config.PricingConfig{}), f.notifier, f.bus, policy, &logger)
	f.bookings.SetClock(f.clock.Now)
	f.payments = NewPaymentService(f.bookings, f.provider, &logger)
	f.users = NewUserService(store, bcrypt.MinCost, &logger)
	f.users.SetClock(f.clock.Now)
	f.labs = NewLabService(store, &logger)
	f.labs.SetClock(f.clock.Now)
	f.reports = NewReportService(store, "USD", &logger)
	f.reports.SetClock(f.clock.Now)

	seedFixture(t, store)
	return f
}

func seedFixture(t *testing.T, store domain.Store) {
	t.Helper()
	ctx := context.Background()
	users := []*models.User{
		{ID: "1", Name: "Demo User", Email: "demo@university.edu", Role: models.RoleInternal, Status: models.UserActive, Department: "Computer Science"},
		{ID: "2", Name: "Jane Smith", Email: "jane.smith@university.edu", Role: models.RoleInternal, Status: models.UserActive, Department: "Physics"},
		{ID: "3", Name: "Admin User", Email: "admin@university.edu", Role: models.RoleAdmin, Status: models.UserActive},
		{ID: "4", Name: "Former Staff", Email: "former@university.edu", Role: models.RoleInternal, Status: models.UserInactive},
		{ID: "5", Name: "External User", Email: "external@company.com", Role: models.RoleExternal, Status: models.UserActive},
	}
	for i, u := range users {
		u.CreatedAt = testNow.Add(time.Duration(i) * time.Second)
		u.UpdatedAt = u.CreatedAt
		require.NoError(t, store.Users().CreateUser(ctx, u))
	}

	labs := []*models.Lab{
		{ID: "lab-1", Name: "Computer Science Lab A", Capacity: 30, Equipment: []string{"Computers", "Projector"}, Building: "Main Building", Floor: "2nd Floor", Status: models.LabAvailable},
		{ID: "lab-2", Name: "Physics Lab", Capacity: 20, Equipment: []string{"Oscilloscopes"}, Building: "Science Building", Floor: "1st Floor", Status: models.LabAvailable},
		{ID: "lab-3", Name: "Chemistry Lab", Capacity: 15, Equipment: []string{"Fume Hoods"}, Building: "Science Building", Floor: "3rd Floor", Status: models.LabMaintenance},
	}
	for _, l := range labs {
		l.CreatedAt, l.UpdatedAt = testNow, testNow
		require.NoError(t, store.Labs().CreateLab(ctx, l))
	}
}

func submitReq(userID, labID, date, start, end string) SubmitRequest {
	return SubmitRequest{
		UserID:  userID,
		LabID:   labID,
		Date:    models.MustDate(date),
		Start:   models.MustTime(start),
		End:     models.MustTime(end),
		Purpose: "Lab session",
	}
}

func (f *fixture) submit(t *testing.T, userID, labID, date, start, end string) *models.Booking {
	t.Helper()
	b, err := f.bookings.SubmitBooking(context.Background(), submitReq(userID, labID, date, start, end))
	require.NoError(t, err)
	return b
}

func (f *fixture) approved(t *testing.T, userID, labID, date, start, end string) *models.Booking {
	t.Helper()
	b := f.submit(t, userID, labID, date, start, end)
	b, err := f.bookings.ApproveBooking(context.Background(), b.ID, "3")
	require.NoError(t, err)
	return b
}

// paid walks an external booking through approval and a successful payment.
func (f *fixture) paid(t *testing.T, labID, date, start, end string) *models.Booking {
	t.Helper()
	ctx := context.Background()
	b := f.approved(t, "5", labID, date, start, end)
	f.provider.On("CreateIntent", mock.Anything, b.ID).Return("pi_"+b.ID, nil).Once()
	_, err := f.payments.InitiatePayment(ctx, b.ID, "5")
	require.NoError(t, err)
	b, err = f.payments.ConfirmPayment(ctx, b.ID, "5", models.OutcomeSuccess, "ref-"+b.ID)
	require.NoError(t, err)
	return b
}

func (f *fixture) reload(t *testing.T, id string) *models.Booking {
	t.Helper()
	b, err := f.store.Bookings().GetBooking(context.Background(), id)
	require.NoError(t, err)
	return b
}

// titles returns the notification titles of userID in sorted order.
func (f *fixture) titles(t *testing.T, userID string) []string {
	t.Helper()
	notes, err := f.store.Notifications().ListUserNotifications(context.Background(), userID, false)
	require.NoError(t, err)
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.Title)
	}
	sort.Strings(out)
	return out
}
