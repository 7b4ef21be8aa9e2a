package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/miragespace/premium/premium"
	"github.com/miragespace/premium/reminder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(zaptest.NewLogger(t))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--db", dbPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestUpsertThenProfile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "premium.db")

	out, err := run(t, dbPath, "upsert", "user-1", "--tier", "premium")
	require.NoError(t, err, out)

	out, err = run(t, dbPath, "profile", "user-1")
	require.NoError(t, err, out)

	var p premium.Profile
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.True(t, p.HasAdvancedAnalytics)
	assert.False(t, p.HasConciergeSLA)
	assert.Equal(t, "ACTIVE", string(p.Status))
}

func TestUpsertRejectsUnknownTier(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "premium.db")
	_, err := run(t, dbPath, "upsert", "user-1", "--tier", "GOLD")
	assert.Error(t, err)
}

func TestRemindersDispatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "premium.db")
	out, err := run(t, dbPath, "reminders", "dispatch", "--now", "2026-03-10T12:00:00Z")
	require.NoError(t, err, out)

	var result reminder.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 0, result.RemindersSent)
}

func TestResyncRequiresStripeKey(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "premium.db")
	_, err := run(t, dbPath, "resync", "sub_1", "--stripe-key", "")
	assert.Error(t, err)
}
