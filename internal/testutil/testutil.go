// Package testutil builds throwaway databases and fixtures for package tests.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/db"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/models"
)

// NewDB returns a migrated in-memory database. A single connection keeps every
// query on the same memory database.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

// Clock hands out strictly increasing whole-second UTC instants.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock() *Clock {
	return &Clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// Peek returns the last instant handed out without advancing.
func (c *Clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func CreateUser(t *testing.T, gdb *gorm.DB, name string) models.User {
	t.Helper()
	u := models.User{
		ID:       uuid.New(),
		Name:     name,
		Email:    name + "-" + uuid.NewString()[:8] + "@campus.edu",
		PhotoURL: "https://cdn.example/" + name + ".jpg",
		Password: "x",
	}
	require.NoError(t, gdb.Create(&u).Error)
	return u
}

func CreateListing(t *testing.T, gdb *gorm.DB, owner models.User, title string) models.Listing {
	t.Helper()
	l := models.Listing{
		ID:     uuid.New(),
		UserID: owner.ID,
		Title:  title,
		Price:  150000,
		Images: datatypes.JSON(`["https://cdn.example/` + title + `-1.jpg","https://cdn.example/` + title + `-2.jpg"]`),
	}
	require.NoError(t, gdb.Create(&l).Error)
	return l
}
