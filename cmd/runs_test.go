package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/attribution-cli/internal/store"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := now.Add(2 * time.Minute)
	runs := []store.Run{
		{
			ID:           "abc12345-6789-0000-0000-000000000000",
			Website:      "www.example.com",
			Date:         time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC),
			Status:       store.RunStatusComplete,
			Transactions: 42,
			Rejected:     1,
			RowsWritten:  97,
			StartedAt:    now,
			CompletedAt:  &done,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Website:   "a-very-long-website-name.example.com",
			Date:      time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC),
			Status:    store.RunStatusRunning,
			StartedAt: now,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "WEBSITE")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "www.example.com")
	assert.Contains(t, output, "2025-06-14")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "97")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "a-very-long-website-name.ex...")
	assert.Contains(t, output, "running")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
