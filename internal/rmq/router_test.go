package rmq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMatchRoutingKey(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"alert/#", "alert/effis/hotspot", true},
		{"alert/#", "alert", false},
		{"camera/#", "alert/effis", false},
		{"#", "anything/at/all", true},

		{"status/+/+/site1/+", "status/end/33001/site1/site1-42", true},
		{"status/+/+/site1/+", "status/end/33001/site2/site1-42", false},
		{"status/+/+/site1/+", "status/end/33001/site1", false},
		{"status/+/+/site1/+", "status/end/33001/site1/site1-42/extra", false},

		{"exact/key", "exact/key", true},
		{"exact/key", "exact/key/deeper", false},
		{"+", "single", true},
		{"+", "two/segments", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchRoutingKey(tt.pattern, tt.key))
		})
	}
}

func TestDispatchInvokesAllMatchingHandlers(t *testing.T) {
	router := &Router{logger: zap.NewNop()}

	var first, second, other int
	router.Bind("q1", "alert/#", func(routingKey string, payload []byte) error {
		first++
		assert.Equal(t, "alert/effis", routingKey)
		assert.Equal(t, []byte(`{}`), payload)
		return nil
	})
	router.Bind("q2", "alert/effis", func(routingKey string, payload []byte) error {
		second++
		return nil
	})
	router.Bind("q3", "camera/#", func(routingKey string, payload []byte) error {
		other++
		return nil
	})

	err := router.Dispatch("alert/effis", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
	assert.Zero(t, other)
}

func TestDispatchNoMatchIsNotAnError(t *testing.T) {
	router := &Router{logger: zap.NewNop()}
	router.Bind("q1", "alert/#", func(routingKey string, payload []byte) error {
		t.Fatal("handler must not run")
		return nil
	})

	assert.NoError(t, router.Dispatch("camera/x", nil))
}

func TestDispatchWrapsHandlerError(t *testing.T) {
	router := &Router{logger: zap.NewNop()}

	sentinel := errors.New("boom")
	router.Bind("alerts", "alert/#", func(routingKey string, payload []byte) error {
		return sentinel
	})

	err := router.Dispatch("alert/effis", []byte(`{"bad":true}`))
	require.Error(t, err)

	var rmqErr *Error
	require.ErrorAs(t, err, &rmqErr)
	assert.Equal(t, "alert/effis", rmqErr.RoutingKey)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "alerts")
}

func TestDispatchStopsOnFirstFailure(t *testing.T) {
	router := &Router{logger: zap.NewNop()}

	var ran int
	router.Bind("q1", "alert/#", func(routingKey string, payload []byte) error {
		return errors.New("first handler failed")
	})
	router.Bind("q2", "alert/#", func(routingKey string, payload []byte) error {
		ran++
		return nil
	})

	assert.Error(t, router.Dispatch("alert/effis", nil))
	assert.Zero(t, ran, "a failed message must stay unacked, not half-handled")
}

func TestDispatchRecoversPanic(t *testing.T) {
	router := &Router{logger: zap.NewNop()}
	router.Bind("alerts", "alert/#", func(routingKey string, payload []byte) error {
		panic("handler exploded")
	})

	err := router.Dispatch("alert/effis", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate([]byte("short"), 10))
	assert.Equal(t, "0123456789...", truncate([]byte("0123456789abcdef"), 10))
}
