package recovery

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiohub/audiohub-go/internal/errors"
)

func TestClassifyKeywordOrder(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		message  string
		expected errors.Kind
	}{
		{"network before timeout", "Network timeout while connecting", errors.KindConnection},
		{"connection refused", "connection refused by peer", errors.KindConnection},
		{"plain timeout", "operation timeout after 30s", errors.KindTimeout},
		{"model failure", "model weights corrupted", errors.KindModel},
		{"prediction failure", "prediction returned no logits", errors.KindModel},
		{"invalid input", "invalid sample rate 0", errors.KindInvalidInput},
		{"input keyword", "input tensor shape mismatch", errors.KindInvalidInput},
		{"memory exhausted", "out of memory during load", errors.KindResourceExceeded},
		{"resource keyword", "resource pool exhausted", errors.KindResourceExceeded},
		{"case insensitive", "CONNECTION LOST", errors.KindConnection},
		{"no keyword", "something unexpected happened", errors.KindUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			kind := Classify(fmt.Errorf("%s", tc.message))
			assert.Equal(t, tc.expected, kind, "message %q should classify as %s", tc.message, tc.expected)
		})
	}
}

func TestClassifyKeepsExistingKind(t *testing.T) {
	t.Parallel()

	// The message mentions memory, but the attached kind wins.
	tagged := errors.Newf("memory mapping failed for model").
		Component("executor").
		Kind(errors.KindModel).
		Build()

	assert.Equal(t, errors.KindModel, Classify(tagged),
		"tagged errors must not be reclassified from their message")
}

func TestRecordErrorClassifiesUntagged(t *testing.T) {
	t.Parallel()

	handler := NewHandler(DefaultRetryConfig())
	enhanced := handler.RecordError(fmt.Errorf("connection reset by peer"), "executor")

	require.NotNil(t, enhanced)
	assert.Equal(t, errors.KindConnection, enhanced.GetKind())
	assert.Equal(t, "executor", enhanced.GetComponent())
	assert.True(t, enhanced.GetKind().Recoverable())
	assert.True(t, enhanced.GetKind().Retryable())
}

func TestRecordErrorPassesTaggedThrough(t *testing.T) {
	t.Parallel()

	original := errors.Newf("resource budget exceeded").
		Component("pool").
		Kind(errors.KindResourceExceeded).
		Build()

	handler := NewHandler(DefaultRetryConfig())
	recorded := handler.RecordError(original, "orchestrator")

	assert.Same(t, original, recorded, "already tagged errors are recorded as-is")
	assert.Equal(t, "pool", recorded.GetComponent(), "component must not be rewritten on record")
}

func TestRecordErrorNil(t *testing.T) {
	t.Parallel()

	handler := NewHandler(DefaultRetryConfig())
	assert.Nil(t, handler.RecordError(nil, "orchestrator"))
}

func TestSuggestRecoveryActionCoversAllKinds(t *testing.T) {
	t.Parallel()

	kinds := []errors.Kind{
		errors.KindConnection,
		errors.KindTimeout,
		errors.KindModel,
		errors.KindInvalidInput,
		errors.KindResourceExceeded,
		errors.KindUnknown,
	}

	seen := make(map[string]bool)
	for _, kind := range kinds {
		action := SuggestRecoveryAction(kind)
		require.NotEmpty(t, action, "kind %s must have a recovery action", kind)
		seen[action] = true
	}
	assert.Len(t, seen, len(kinds), "each kind should map to a distinct action")
}

func TestBackoffFirstAttemptBounds(t *testing.T) {
	t.Parallel()

	config := DefaultRetryConfig()
	for i := 0; i < 50; i++ {
		delay := config.Backoff(0)
		assert.GreaterOrEqual(t, delay, time.Second, "first backoff includes the full initial delay")
		assert.Less(t, delay, 2*time.Second, "jitter stays below one second")
	}
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	t.Parallel()

	config := DefaultRetryConfig()
	for i := 0; i < 50; i++ {
		delay := config.Backoff(10)
		assert.GreaterOrEqual(t, delay, 30*time.Second, "exponent far past the cap still pays the cap")
		assert.Less(t, delay, 31*time.Second, "jitter is added after capping")
	}
}

func TestBackoffMonotonicWithoutJitter(t *testing.T) {
	t.Parallel()

	config := DefaultRetryConfig()
	config.Jitter = 0

	previous := time.Duration(0)
	for attempt := 0; attempt < 12; attempt++ {
		delay := config.Backoff(attempt)
		assert.GreaterOrEqual(t, delay, previous, "pre-jitter backoff never shrinks between attempts")
		previous = delay
	}
	assert.Equal(t, 30*time.Second, previous, "late attempts sit exactly at the cap")
}

func TestBackoffNegativeAttempt(t *testing.T) {
	t.Parallel()

	config := DefaultRetryConfig()
	config.Jitter = 0
	assert.Equal(t, time.Second, config.Backoff(-3), "negative attempts are clamped to the first delay")
}

func TestShouldRetryBounds(t *testing.T) {
	t.Parallel()

	config := DefaultRetryConfig()
	retryable := errors.Newf("request timeout").Kind(errors.KindTimeout).Build()
	permanent := errors.Newf("invalid input shape").Kind(errors.KindInvalidInput).Build()

	assert.True(t, config.ShouldRetry(retryable, 0))
	assert.True(t, config.ShouldRetry(retryable, 1))
	assert.False(t, config.ShouldRetry(retryable, 2), "three attempts total, no fourth")
	assert.False(t, config.ShouldRetry(permanent, 0), "non-retryable kinds never retry")
	assert.False(t, config.ShouldRetry(nil, 0))
}
