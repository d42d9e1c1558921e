package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jcmrest/jcmrest/core"
)

// syncBuffer is written by the batch span processor goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newStdoutProvider(t *testing.T) (*Provider, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	p, err := NewProvider(context.Background(), core.TelemetryConfig{
		Enabled:      true,
		Exporter:     ExporterStdout,
		ServiceName:  "jcmrest-test",
		SamplingRate: 1,
	}, WithWriter(out), WithServiceVersion("test"))
	require.NoError(t, err)
	return p, out
}

func TestProviderExportsSpans(t *testing.T) {
	p, out := newStdoutProvider(t)

	ctx, span := p.StartSpan(context.Background(), "command.execute")
	span.SetAttribute("agent", "bob")
	span.SetAttribute("steps", 3)
	span.SetAttribute("elapsed", 1.5)
	span.SetAttribute("ok", true)
	span.SetAttribute("duration", time.Second)
	span.RecordError(errors.New("boom"))

	_, child := p.StartSpan(ctx, "child")
	child.End()
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))

	text := out.String()
	assert.Contains(t, text, `"Name":"command.execute"`)
	assert.Contains(t, text, `"Name":"child"`)
	assert.Contains(t, text, "bob")
	assert.Contains(t, text, "jcmrest-test")
	assert.Contains(t, text, "boom")
}

func TestProviderRecordsMetrics(t *testing.T) {
	p, _ := newStdoutProvider(t)
	defer p.Shutdown(context.Background())

	for i := 0; i < 3; i++ {
		p.RecordMetric("jcmrest.command.count", 1, map[string]string{"agent": "bob", "outcome": "succeeded"})
		p.RecordMetric("jcmrest.command.duration_ms", 12.5, map[string]string{"agent": "bob"})
	}

	p.mu.Lock()
	assert.Len(t, p.counters, 1)
	assert.Len(t, p.histograms, 1)
	p.mu.Unlock()

	rm, err := p.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rm.ScopeMetrics, 1)

	found := map[string]bool{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		found[m.Name] = true
		switch data := m.Data.(type) {
		case metricdata.Sum[float64]:
			require.Len(t, data.DataPoints, 1)
			assert.Equal(t, 3.0, data.DataPoints[0].Value)
		case metricdata.Histogram[float64]:
			require.Len(t, data.DataPoints, 1)
			assert.Equal(t, uint64(3), data.DataPoints[0].Count)
			assert.Equal(t, 37.5, data.DataPoints[0].Sum)
		}
	}
	assert.True(t, found["jcmrest.command.count"])
	assert.True(t, found["jcmrest.command.duration_ms"])
}

func TestNewProviderRejectsBadConfig(t *testing.T) {
	_, err := NewProvider(context.Background(), core.TelemetryConfig{Exporter: "zipkin"})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	_, err = NewProvider(context.Background(), core.TelemetryConfig{Exporter: ExporterOTLP})
	assert.ErrorIs(t, err, core.ErrMissingConfiguration)

	_, err = NewProvider(context.Background(), core.TelemetryConfig{Exporter: ExporterOTLPHTTP})
	assert.ErrorIs(t, err, core.ErrMissingConfiguration)
}

func TestOTLPHTTPProviderShutsDown(t *testing.T) {
	p, err := NewProvider(context.Background(), core.TelemetryConfig{
		Exporter: ExporterOTLPHTTP,
		Endpoint: "127.0.0.1:4318",
		Insecure: true,
	})
	require.NoError(t, err)

	_, err = p.Collect(context.Background())
	assert.ErrorIs(t, err, core.ErrNotInitialized, "pushed metrics are not collectable")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// no collector listens here, only the call returning matters
	_ = p.Shutdown(ctx)
}

func TestWithMeterProviderIsNotOwned(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	p, err := NewProvider(context.Background(), core.TelemetryConfig{Exporter: ExporterStdout},
		WithWriter(&syncBuffer{}), WithMeterProvider(mp))
	require.NoError(t, err)

	p.RecordMetric("jcmrest.agent.count", 1, nil)
	require.NoError(t, p.Shutdown(context.Background()))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm), "caller's provider stays open")
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, "jcmrest.agent.count", rm.ScopeMetrics[0].Metrics[0].Name)
}

func TestOTLPProviderShutsDown(t *testing.T) {
	p, err := NewProvider(context.Background(), core.TelemetryConfig{
		Exporter: ExporterOTLP,
		Endpoint: "127.0.0.1:4317",
		Insecure: true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// nothing was recorded, so there is nothing to export
	assert.NoError(t, p.Shutdown(ctx))
}

func TestCardinalityLimiter(t *testing.T) {
	l := NewCardinalityLimiter(map[string]int{"agent": 2})
	defer l.Stop()

	assert.Equal(t, "a", l.CheckAndLimit("m", "agent", "a"))
	assert.Equal(t, "b", l.CheckAndLimit("m", "agent", "b"))
	assert.Equal(t, OverflowValue, l.CheckAndLimit("m", "agent", "c"))
	assert.Equal(t, "a", l.CheckAndLimit("m", "agent", "a"), "known values keep passing")

	// limits are per metric, unlimited labels pass through
	assert.Equal(t, "c", l.CheckAndLimit("other", "agent", "c"))
	for i := 0; i < 10; i++ {
		v := fmt.Sprintf("v%d", i)
		assert.Equal(t, v, l.CheckAndLimit("m", "outcome", v))
	}
	assert.Equal(t, 3, l.CurrentCardinality(), "only limited labels are tracked")

	l.cleanup(time.Now().Add(time.Hour))
	assert.Zero(t, l.CurrentCardinality())
	assert.Equal(t, "c", l.CheckAndLimit("m", "agent", "c"))

	l.Stop()
	l.Stop()
}
