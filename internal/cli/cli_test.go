package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Kodeloom/spacovers-admin/internal/config"
	"github.com/Kodeloom/spacovers-admin/internal/db/dbtest"
	"github.com/Kodeloom/spacovers-admin/internal/logging"
	"github.com/Kodeloom/spacovers-admin/internal/models"
)

func run(t *testing.T, d *gorm.DB, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	opts := &RootOptions{
		Config: &config.Config{Database: config.DatabaseConfig{Driver: "sqlite"}},
		DB:     d,
		Log:    logging.Discard(),
	}
	cmd := NewRootCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "expected ExitError, got %v", err)
	return exitErr.Code
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, dbtest.Open(t), "--format", "yaml", "seed")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, exitCode(t, err))
}

func TestMigrateAndSeed_AreIdempotent(t *testing.T) {
	d := dbtest.Open(t)
	out, err := run(t, d, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied")

	out, err = run(t, d, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")

	var n int64
	require.NoError(t, d.Model(&models.Profile{}).Where("name = ?", "admin").Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestIsolationScan(t *testing.T) {
	d := dbtest.Open(t)
	f := dbtest.NewOrder(t, d, models.OrderStatusPending)
	dbtest.AddItem(t, d, f.Order.ID, f.Item.ID, "7", true)

	out, err := run(t, d, "isolation", "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "no shared line references")

	other := dbtest.AddOrder(t, d, f.Customer.ID, models.OrderStatusPending)
	dbtest.AddItem(t, d, other.ID, f.Item.ID, "7", true)

	out, err = run(t, d, "--format", "json", "isolation", "scan")
	require.NoError(t, err)
	var found []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found, 1)
	assert.Equal(t, "7", found[0]["quickbooksOrderLineId"])

	out, err = run(t, d, "isolation", "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "line 7: 2 orders")
}

func TestIsolationCheck(t *testing.T) {
	d := dbtest.Open(t)
	f := dbtest.NewOrder(t, d, models.OrderStatusPending)
	dbtest.AddItem(t, d, f.Order.ID, f.Item.ID, "1", true)
	dbtest.AddItem(t, d, f.Order.ID, f.Item.ID, "2", true)

	out, err := run(t, d, "isolation", "check", strconv.Itoa(int(f.Order.ID)))
	require.NoError(t, err)
	assert.Contains(t, out, "valid, 2 items")

	_, err = run(t, d, "isolation", "check", "abc")
	assert.Equal(t, ExitCommandError, exitCode(t, err))

	_, err = run(t, d, "isolation", "check", "9999")
	assert.Equal(t, ExitCommandError, exitCode(t, err))
}

func TestQuickBooksStatus(t *testing.T) {
	d := dbtest.Open(t)
	out, err := run(t, d, "qbo", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not connected")

	now := time.Now()
	require.NoError(t, d.Create(&models.QuickbooksToken{
		CompanyID: "realm-9", AccessToken: "a", RefreshToken: "r",
		AccessTokenExpiresAt: now.Add(time.Hour), RefreshTokenExpiresAt: now.Add(48 * time.Hour), ConnectedAt: now,
	}).Error)

	out, err = run(t, d, "--format", "json", "qbo", "status")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, true, st["connected"])
	assert.Equal(t, "realm-9", st["companyId"])
}
