package audit

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseSink writes audit events to ClickHouse asynchronously.
// Write is non-blocking: events are buffered and batch-inserted in a
// background goroutine.
type ClickHouseSink struct {
	conn    driver.Conn
	buffer  chan *Event
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

// NewClickHouseSink connects to ClickHouse and starts the flush loop.
func NewClickHouseSink(dsn string, logger *zap.Logger) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	s := &ClickHouseSink{
		conn:    conn,
		buffer:  make(chan *Event, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go s.flushLoop()
	return s, nil
}

// Write queues an event for async insertion.
// Non-blocking: drops the event if the buffer is full.
func (s *ClickHouseSink) Write(event *Event) {
	select {
	case s.buffer <- event:
	default:
		s.logger.Warn("audit buffer full, dropping event",
			zap.String("execution_id", event.ExecutionID),
		)
	}
}

// Close signals the flush loop to drain remaining events.
func (s *ClickHouseSink) Close() {
	close(s.done)
	<-s.flushed
}

func (s *ClickHouseSink) flushLoop() {
	defer close(s.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, flushBatch)

	for {
		select {
		case event := <-s.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-s.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-s.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *ClickHouseSink) flush(events []*Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO gate_audit_events (
			timestamp, event_type, phase, execution_id,
			tool_name, agent_name, request_id, user_id, session_id,
			allowed, supervision_level, risk_level,
			result, error, metadata
		)
	`)
	if err != nil {
		s.logger.Error("audit prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		var allowed uint8
		if e.Allowed != nil && *e.Allowed {
			allowed = 1
		}

		if err := batch.Append(
			e.Timestamp,
			e.EventType,
			e.Phase,
			e.ExecutionID,
			e.ToolName,
			e.AgentName,
			e.RequestID,
			e.UserID,
			e.SessionID,
			allowed,
			e.Supervision,
			e.Risk,
			e.Result,
			e.Error,
			e.Metadata,
		); err != nil {
			s.logger.Error("audit append event failed",
				zap.String("execution_id", e.ExecutionID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		s.logger.Error("audit batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}
