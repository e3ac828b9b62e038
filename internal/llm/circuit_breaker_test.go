package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreakerWithConfig("test", CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     time.Minute,
	})

	boom := errors.New("upstream down")
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(context.Background(), func() (interface{}, error) {
			return nil, boom
		})
		require.ErrorIs(t, err, boom)
	}

	assert.Equal(t, "open", cb.State())
	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		t.Fatal("should not be called while open")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test")

	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "closed", cb.State())

	m := cb.Metrics()
	assert.Equal(t, uint64(1), m.TotalRequests)
	assert.Equal(t, uint64(1), m.TotalSuccesses)
}

func TestCircuitBreakerRespectsContext(t *testing.T) {
	cb := NewCircuitBreaker("test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.Execute(ctx, func() (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
