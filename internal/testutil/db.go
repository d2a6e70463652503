// Package testutil has fixtures shared by package tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tourney-registry/internal/models"
	"tourney-registry/internal/store"
)

const Fee = 50000

// NewDB returns a migrated in-memory SQLite database private to the test.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db, models.Settings{RegistrationOpen: true, FeeAmount: Fee, Currency: "INR"}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Registration returns a valid, normalized registration for email.
func Registration(email string) models.RegisterCommand {
	return models.RegisterCommand{
		TeamName:      "Team " + email,
		Players:       []string{"Asha", "Ben", "Chitra", "Dev"},
		ContactEmail:  email,
		ContactNumber: "9876543210",
		PaymentMethod: "hosted",
	}.Normalize()
}
