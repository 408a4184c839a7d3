package evaluator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dwayneex/rate-limiter/internal/metrics"
)

// AuditRecord is one immutable entry describing an evaluated request.
type AuditRecord struct {
	TenantID  string
	Route     string
	IP        string
	UserID    string
	Allowed   bool
	Timestamp time.Time
}

// LogAppender persists audit records. Implemented by the SQL store.
type LogAppender interface {
	AppendRequestLog(ctx context.Context, tenantID, route, ip, userID string, allowed bool, ts time.Time) error
}

// AuditWriter decouples audit persistence from the evaluation path:
// records go through a bounded buffer drained by a single background
// goroutine. When the buffer is full the record is dropped rather than
// blocking an in-flight evaluation.
type AuditWriter struct {
	appender LogAppender
	ch       chan AuditRecord
	logger   *zap.Logger
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewAuditWriter starts the background writer with the given buffer
// size. Close must be called to drain and stop it.
func NewAuditWriter(appender LogAppender, buffer int, logger *zap.Logger) *AuditWriter {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &AuditWriter{
		appender: appender,
		ch:       make(chan AuditRecord, buffer),
		logger:   logger,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Append enqueues a record without blocking. Drops are counted but
// never surface to the evaluation path.
func (w *AuditWriter) Append(rec AuditRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- rec:
	default:
		metrics.AuditDropsTotal.Inc()
		w.logger.Warn("audit buffer full, dropping record",
			zap.String("tenant_id", rec.TenantID))
	}
}

func (w *AuditWriter) run() {
	defer w.wg.Done()
	for rec := range w.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.appender.AppendRequestLog(ctx, rec.TenantID, rec.Route, rec.IP, rec.UserID, rec.Allowed, rec.Timestamp)
		cancel()
		if err != nil {
			w.logger.Warn("audit write failed", zap.Error(err))
		}
	}
}

// Close drains buffered records and stops the writer.
func (w *AuditWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()
	w.wg.Wait()
}
