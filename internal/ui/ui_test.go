package ui

import (
	"bytes"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
	replicasync "github.com/nikolaj20/erp-phonetech/internal/replica/sync"
)

func TestStatuses(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Statuses([]replicasync.Status{
		{Collection: "inventory", Version: 2000, Records: 3, Pending: 1},
		{Collection: "tickets", Expired: true, LastError: "session expired"},
	})

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "COLLECTION"))
	assert.Contains(t, lines[1], "inventory")
	assert.Contains(t, lines[1], "2000")
	assert.Contains(t, lines[1], "idle")
	assert.Contains(t, lines[1], "never")
	assert.Contains(t, lines[2], "session expired")
	assert.Contains(t, lines[2], "-")
	assert.Equal(t, "tickets: session expired", lines[3])
}

func TestOperations(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Operations("inventory", nil)
	assert.Contains(t, buf.String(), "inventory: no pending operations")

	buf.Reset()
	p.Operations("inventory", []schema.Operation{{
		ID:         "0123456789abcdef",
		Action:     schema.ActionUpdate,
		Method:     http.MethodPut,
		Resource:   "/inventory/A",
		Attempts:   2,
		EnqueuedAt: time.Date(2024, 4, 5, 10, 0, 0, 0, time.Local),
	}})

	out := buf.String()
	assert.Contains(t, out, "inventory (1 pending)")
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789")
	assert.Contains(t, out, "/inventory/A")
	assert.Contains(t, out, "2024-04-05 10:00:00")
}

func TestMessages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Success("saved %d", 1)
	p.Warn("careful")
	p.Info("plain %s", "text")
	assert.Equal(t, "✓ saved 1\n! careful\nplain text\n", buf.String())
}

func TestColumnsAlign(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, false).Statuses([]replicasync.Status{
		{Collection: "a", Version: 1},
		{Collection: "customers", Version: 123456},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	col := strings.Index(lines[0], "VERSION")
	assert.Equal(t, col, strings.Index(lines[1], "1"))
	assert.Equal(t, col, strings.Index(lines[2], "123456"))
}
