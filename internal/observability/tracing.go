package observability

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("service.component", service),
		attribute.String("service.operation", operation),
	)
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// EndSpan closes a span, recording err when set
func EndSpan(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
	}
	span.End()
}

// DatabaseMetrics holds database-related metrics
type DatabaseMetrics struct {
	queryDuration metric.Float64Histogram
	queryCount    metric.Int64Counter
	errorCount    metric.Int64Counter
}

// NewDatabaseMetrics creates database metrics instruments
func NewDatabaseMetrics() (*DatabaseMetrics, error) {
	meter := otel.Meter(instrumentationName)

	queryDuration, err := meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	queryCount, err := meter.Int64Counter(
		"db.query.count",
		metric.WithDescription("Total number of database queries"),
		metric.WithUnit("{queries}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"db.error.count",
		metric.WithDescription("Total number of database errors"),
		metric.WithUnit("{errors}"),
	)
	if err != nil {
		return nil, err
	}

	return &DatabaseMetrics{
		queryDuration: queryDuration,
		queryCount:    queryCount,
		errorCount:    errorCount,
	}, nil
}

// RecordQuery records a database query metrics
func (m *DatabaseMetrics) RecordQuery(ctx context.Context, operation, table string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
	}

	m.queryCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.queryDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.errorCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TraceDB wraps a database handle or transaction with tracing
type TraceDB struct {
	q       Querier
	system  string
	metrics *DatabaseMetrics
}

// NewTraceDB creates a traced wrapper. system is the db.system attribute
// ("sqlite", "postgresql"); metrics may be nil.
func NewTraceDB(q Querier, system string, metrics *DatabaseMetrics) *TraceDB {
	return &TraceDB{q: q, system: system, metrics: metrics}
}

func (t *TraceDB) start(ctx context.Context, name, query string) (context.Context, trace.Span, string, string) {
	operation, table := statementTarget(query)
	ctx, span := StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", t.system),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
	return ctx, span, operation, table
}

// QueryContext executes a query with tracing
func (t *TraceDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	ctx, span, operation, table := t.start(ctx, "DB Query", query)
	defer span.End()

	start := time.Now()
	rows, err := t.q.QueryContext(ctx, query, args...)
	duration := time.Since(start)

	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
	}

	span.SetAttributes(attribute.Int64("db.query_duration_ms", duration.Milliseconds()))
	t.metrics.RecordQuery(ctx, operation, table, duration, err)

	return rows, err
}

// ExecContext executes a statement with tracing
func (t *TraceDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, span, operation, table := t.start(ctx, "DB Exec", query)
	defer span.End()

	start := time.Now()
	result, err := t.q.ExecContext(ctx, query, args...)
	duration := time.Since(start)

	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
		if rowsAffected, raErr := result.RowsAffected(); raErr == nil {
			span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
		}
	}

	span.SetAttributes(attribute.Int64("db.query_duration_ms", duration.Milliseconds()))
	t.metrics.RecordQuery(ctx, operation, table, duration, err)

	return result, err
}

// QueryRowContext executes a query that returns a single row with tracing
func (t *TraceDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	ctx, span, operation, table := t.start(ctx, "DB QueryRow", query)
	// the row error is only known after Scan, so the span covers dispatch only
	start := time.Now()
	row := t.q.QueryRowContext(ctx, query, args...)
	t.metrics.RecordQuery(ctx, operation, table, time.Since(start), nil)
	span.End()
	return row
}

func truncateQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "..."
	}
	return query
}

// statementTarget extracts the verb and the first table a statement touches
func statementTarget(query string) (operation, table string) {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "", ""
	}
	operation = strings.ToUpper(fields[0])

	for i, f := range fields[:len(fields)-1] {
		switch strings.ToUpper(f) {
		case "FROM", "INTO", "UPDATE":
			table = strings.Trim(fields[i+1], `"();`)
			return operation, table
		}
	}
	return operation, table
}

// SyncMetrics holds protocol-level counters
type SyncMetrics struct {
	operations    metric.Int64Counter
	itemsReceived metric.Int64Counter
	itemsAdded    metric.Int64Counter
	itemsDrained  metric.Int64Counter
	authAttempts  metric.Int64Counter
}

// NewSyncMetrics creates sync metrics instruments
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	operations, err := meter.Int64Counter(
		"tillsync.sync.operations",
		metric.WithDescription("Total number of sync operations"),
		metric.WithUnit("{operations}"),
	)
	if err != nil {
		return nil, err
	}

	itemsReceived, err := meter.Int64Counter(
		"tillsync.items.received",
		metric.WithDescription("Items submitted by terminals"),
		metric.WithUnit("{items}"),
	)
	if err != nil {
		return nil, err
	}

	itemsAdded, err := meter.Int64Counter(
		"tillsync.items.added",
		metric.WithDescription("Items newly stored by idempotent appends"),
		metric.WithUnit("{items}"),
	)
	if err != nil {
		return nil, err
	}

	itemsDrained, err := meter.Int64Counter(
		"tillsync.pending.drained",
		metric.WithDescription("Items handed out by pending queue drains"),
		metric.WithUnit("{items}"),
	)
	if err != nil {
		return nil, err
	}

	authAttempts, err := meter.Int64Counter(
		"tillsync.auth.attempts",
		metric.WithDescription("Total number of authentication attempts"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		operations:    operations,
		itemsReceived: itemsReceived,
		itemsAdded:    itemsAdded,
		itemsDrained:  itemsDrained,
		authAttempts:  authAttempts,
	}, nil
}

// RecordPush records a push or append with the number of submitted and stored items
func (m *SyncMetrics) RecordPush(ctx context.Context, collection, operation string, received, added int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(Collection(collection), Operation(operation))
	m.operations.Add(ctx, 1, attrs)
	m.itemsReceived.Add(ctx, int64(received), attrs)
	m.itemsAdded.Add(ctx, int64(added), attrs)
}

// RecordPull records a full or delta pull
func (m *SyncMetrics) RecordPull(ctx context.Context, collection, operation string) {
	if m == nil {
		return
	}
	m.operations.Add(ctx, 1, metric.WithAttributes(Collection(collection), Operation(operation)))
}

// RecordDrain records a pending queue drain
func (m *SyncMetrics) RecordDrain(ctx context.Context, queue string, count int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("queue", queue))
	m.operations.Add(ctx, 1, metric.WithAttributes(Operation("drain")))
	m.itemsDrained.Add(ctx, int64(count), attrs)
}

// RecordAuthAttempt records an authentication attempt
func (m *SyncMetrics) RecordAuthAttempt(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.authAttempts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}
