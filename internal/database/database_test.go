package database

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedTestDB(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.Users().CreateUser(ctx, &models.User{
		ID: "1", Name: "Demo User", Email: "demo@university.edu", Role: models.RoleInternal,
		Status: models.UserActive, Department: "Computer Science", CreatedAt: testNow, UpdatedAt: testNow,
	}))
	require.NoError(t, db.Users().CreateUser(ctx, &models.User{
		ID: "5", Name: "External User", Email: "external@company.com", Role: models.RoleExternal,
		Status: models.UserActive, CreatedAt: testNow.Add(time.Second), UpdatedAt: testNow,
	}))
	require.NoError(t, db.Labs().CreateLab(ctx, &models.Lab{
		ID: "lab-1", Name: "Computer Science Lab A", Capacity: 30, Equipment: []string{"Computers", "Projector"},
		Building: "Main Building", Floor: "2nd Floor", Status: models.LabAvailable, CreatedAt: testNow, UpdatedAt: testNow,
	}))
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_ReopenKeepsSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	seedTestDB(t, db)
	require.NoError(t, db.Close())

	db, err = NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	lab, err := db.Labs().GetLab(context.Background(), "lab-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Computers", "Projector"}, lab.Equipment)
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.PingContext(context.Background()))
}

func TestWithinTx(t *testing.T) {
	db := setupTestDB(t)
	seedTestDB(t, db)
	ctx := context.Background()

	t.Run("Rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
			require.NoError(t, tx.Notifications().CreateNotification(ctx, &models.Notification{
				ID: "n-rollback", UserID: "1", Title: "t", Message: "m", Type: models.NotificationInfo, CreatedAt: testNow,
			}))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = db.Notifications().GetNotification(ctx, "n-rollback")
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("Commit", func(t *testing.T) {
		err := db.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
			return tx.Notifications().CreateNotification(ctx, &models.Notification{
				ID: "n-1", UserID: "1", Title: "t", Message: "m", Type: models.NotificationInfo, CreatedAt: testNow,
			})
		})
		require.NoError(t, err)

		n, err := db.Notifications().GetNotification(ctx, "n-1")
		require.NoError(t, err)
		assert.True(t, n.CreatedAt.Equal(testNow))
	})
}

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close()

	ctx := context.Background()

	_, err = db.Bookings().GetBooking(ctx, "b-1")
	assert.Error(t, err)
	assert.Error(t, db.Bookings().CreateBooking(ctx, &models.Booking{ID: "b-1"}))
	_, err = db.Labs().ListLabs(ctx, models.LabFilter{})
	assert.Error(t, err)
	assert.Error(t, db.CreateTask(ctx, &models.DeliveryTask{}))
	assert.Error(t, db.WithinTx(ctx, func(context.Context, domain.Repositories) error { return nil }))
}

func TestNewDB_BadPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	logger := zerolog.Nop()
	_, err := NewDB(filepath.Join(file, "sub", "test.db"), &logger)
	assert.Error(t, err)
}
