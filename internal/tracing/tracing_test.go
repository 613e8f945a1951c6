package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledInstallsNoOp(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		ServiceName: "sequencer-test",
		Endpoint:    "localhost:4317",
		Enabled:     false,
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// The no-op shutdown must tolerate repeated calls.
	assert.NoError(t, shutdown(context.Background()))
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_EmptyEndpointInstallsNoOp(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		ServiceName: "sequencer-test",
		Enabled:     true,
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestTracer_UsableWithoutExporter(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "sequencer-test"})
	require.NoError(t, err)
	defer shutdown(context.Background())

	tr := Tracer("producer")
	require.NotNil(t, tr)

	// Spans from the no-op provider must be safe to start and end.
	_, span := tr.Start(context.Background(), "tick")
	span.End()
}

func TestSampler_RatioClamping(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
		want  string
	}{
		{name: "zero records everything", ratio: 0, want: "root:AlwaysOnSampler"},
		{name: "negative records everything", ratio: -0.5, want: "root:AlwaysOnSampler"},
		{name: "above one records everything", ratio: 2, want: "root:AlwaysOnSampler"},
		{name: "fraction is kept", ratio: 0.25, want: "root:TraceIDRatioBased"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := sampler(tt.ratio).Description()
			assert.Contains(t, desc, "ParentBased")
			assert.Contains(t, desc, tt.want)
		})
	}
}
