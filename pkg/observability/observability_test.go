package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

type metricsCommand struct{ commandType string }

func (metricsCommand) CommandID() string     { return "cmd-1" }
func (metricsCommand) AggregateID() string   { return "agg-1" }
func (c metricsCommand) CommandType() string { return c.commandType }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitWithoutExportersIsNoop(t *testing.T) {
	ctx := context.Background()

	tel, err := Init(ctx, Config{
		ServiceName: "shopstream-test",
		Environment: "test",
		Logger:      discardLogger(),
	})
	require.NoError(t, err)

	require.NotNil(t, tel.TracerProvider)
	require.NotNil(t, tel.MeterProvider)
	assert.Nil(t, tel.Metrics)

	// No-op spans still carry through without exporters configured.
	_, span := tel.Tracer("test").Start(ctx, "noop")
	span.End()

	require.NoError(t, tel.Shutdown(ctx))
}

func TestInitWithReaderCreatesInstruments(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()

	tel, err := Init(ctx, Config{
		ServiceName:  "shopstream-test",
		Environment:  "test",
		MetricReader: reader,
		Logger:       discardLogger(),
	})
	require.NoError(t, err)
	defer tel.Shutdown(ctx)

	require.NotNil(t, tel.Metrics)
	tel.Metrics.RecordSagaFinished(ctx, "order-fulfillment", "completed")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	m := findMetric(t, rm, "shopstream.saga.finished")
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
}

func TestCommandMetricsMiddleware(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(ctx)

	metrics, err := NewMetrics(mp.Meter("shopstream"))
	require.NoError(t, err)

	handlerErr := error(nil)
	handler := CommandMetricsMiddleware(metrics)(eventsourcing.CommandHandlerFunc(
		func(ctx context.Context, cmd *eventsourcing.CommandEnvelope) ([]*eventsourcing.Event, error) {
			if handlerErr != nil {
				return nil, handlerErr
			}
			return []*eventsourcing.Event{{ID: "e1"}, {ID: "e2"}}, nil
		}))

	dispatch := func(commandType string) error {
		_, err := handler.Handle(ctx, eventsourcing.NewEnvelope(metricsCommand{commandType: commandType}))
		return err
	}

	require.NoError(t, dispatch("CreateProduct"))
	handlerErr = eventsourcing.NewValidationError("name", "required")
	require.Error(t, dispatch("CreateProduct"))
	handlerErr = eventsourcing.NewDomainError("ORDER_NOT_PENDING", "order is shipped")
	require.Error(t, dispatch("CancelOrder"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	total := sumByAttr(t, findMetric(t, rm, "shopstream.command.total"))
	assert.Equal(t, int64(2), total["command_type=CreateProduct"])
	assert.Equal(t, int64(1), total["command_type=CancelOrder"])

	failures := sumByAttr(t, findMetric(t, rm, "shopstream.command.errors"))
	assert.Equal(t, int64(1), failures["command_type=CreateProduct,error_kind=validation"])
	assert.Equal(t, int64(1), failures["command_type=CancelOrder,error_kind=domain"])

	// Only the successful dispatch published its events.
	published := findMetric(t, rm, "shopstream.events.published")
	sum, ok := published.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestErrorKindClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", eventsourcing.NewValidationError("sku", "required"), "validation"},
		{"domain", eventsourcing.NewDomainError("OUT_OF_STOCK", "no stock"), "domain"},
		{"version conflict", eventsourcing.NewVersionConflictError("aggregate-p1", 3, 5), "version_conflict"},
		{"fatal", eventsourcing.Fatal(errors.New("corrupt payload")), "fatal"},
		{"transient", eventsourcing.Transient(errors.New("connection reset")), "transient"},
		{"other", errors.New("plain"), "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorKind(tt.err))
		})
	}
}

func TestRecordAppendCountsConflictsSeparately(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(ctx)

	metrics, err := NewMetrics(mp.Meter("shopstream"))
	require.NoError(t, err)

	metrics.RecordAppend(ctx, "product", 5*time.Millisecond, 3, nil)
	metrics.RecordAppend(ctx, "product", 2*time.Millisecond, 1,
		eventsourcing.NewVersionConflictError("aggregate-p1", 1, 2))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	appended, ok := findMetric(t, rm, "shopstream.events.appended").Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, appended.DataPoints, 1)
	assert.Equal(t, int64(3), appended.DataPoints[0].Value)

	conflicts, ok := findMetric(t, rm, "shopstream.eventstore.version_conflicts").Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, conflicts.DataPoints, 1)
	assert.Equal(t, int64(1), conflicts.DataPoints[0].Value)
}

func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s was not collected", name)
	return metricdata.Metrics{}
}

// sumByAttr flattens an int64 sum into attribute-string keyed values.
func sumByAttr(t *testing.T, m metricdata.Metrics) map[string]int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	out := make(map[string]int64, len(sum.DataPoints))
	for _, dp := range sum.DataPoints {
		key := ""
		for i, kv := range dp.Attributes.ToSlice() {
			if i > 0 {
				key += ","
			}
			key += string(kv.Key) + "=" + kv.Value.Emit()
		}
		out[key] = dp.Value
	}
	return out
}
