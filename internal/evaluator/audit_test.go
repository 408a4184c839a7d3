package evaluator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureAppender struct {
	mu    sync.Mutex
	recs  []AuditRecord
	block chan struct{}
}

func (c *captureAppender) AppendRequestLog(ctx context.Context, tenantID, route, ip, userID string, allowed bool, ts time.Time) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, AuditRecord{TenantID: tenantID, Route: route, IP: ip, UserID: userID, Allowed: allowed, Timestamp: ts})
	return nil
}

func (c *captureAppender) records() []AuditRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AuditRecord(nil), c.recs...)
}

func TestAuditWriter_WritesRecords(t *testing.T) {
	appender := &captureAppender{}
	w := NewAuditWriter(appender, 16, nil)

	w.Append(AuditRecord{TenantID: "t1", Allowed: true, Timestamp: time.Now()})
	w.Append(AuditRecord{TenantID: "t1", Allowed: false, Timestamp: time.Now()})
	w.Close()

	recs := appender.records()
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Allowed)
	assert.False(t, recs[1].Allowed)
}

func TestAuditWriter_DropsWhenSaturated(t *testing.T) {
	appender := &captureAppender{block: make(chan struct{})}
	w := NewAuditWriter(appender, 1, nil)

	// First record occupies the worker, second fills the buffer,
	// third has nowhere to go and is dropped.
	w.Append(AuditRecord{TenantID: "a"})
	waitForWorker(t, w)
	w.Append(AuditRecord{TenantID: "b"})
	w.Append(AuditRecord{TenantID: "c"})

	close(appender.block)
	w.Close()

	assert.Len(t, appender.records(), 2)
}

func TestAuditWriter_AppendAfterClose(t *testing.T) {
	appender := &captureAppender{}
	w := NewAuditWriter(appender, 1, nil)
	w.Close()

	// Must not panic or block.
	w.Append(AuditRecord{TenantID: "t1"})
	assert.Empty(t, appender.records())
}

// waitForWorker blocks until the writer goroutine has picked up the
// first record, so the buffer accounting in the test is deterministic.
func waitForWorker(t *testing.T, w *AuditWriter) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for len(w.ch) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the record")
		}
		time.Sleep(time.Millisecond)
	}
}
