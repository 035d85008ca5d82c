package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "arcfork", Version: "test"}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Tracer)
	assert.NotNil(t, ActionDuration)
}

func TestSampler(t *testing.T) {
	testCases := []struct {
		ratio float64
		want  string
	}{
		{ratio: 0, want: sdktrace.AlwaysSample().Description()},
		{ratio: 1, want: sdktrace.AlwaysSample().Description()},
		{ratio: 2.5, want: sdktrace.AlwaysSample().Description()},
		{ratio: 0.25, want: sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description()},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, sampler(tc.ratio).Description(), "ratio %v", tc.ratio)
	}
}

func TestStartTick_Noop(t *testing.T) {
	ctx, span := StartTick(context.Background(), "post", "nova", 3)
	defer span.End()
	assert.NotNil(t, span)
	assert.NotPanics(t, func() { RecordTick(ctx, "post", 40*time.Millisecond) })
}
