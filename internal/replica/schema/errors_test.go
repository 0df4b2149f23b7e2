package schema

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	rejected := &RejectedError{Status: 422, Message: "price must be positive"}

	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNone},
		{"network", fmt.Errorf("fetch: %w", ErrNetworkUnavailable), ClassRetryable},
		{"malformed", ErrMalformedResponse, ClassRetryable},
		{"canceled", context.Canceled, ClassRetryable},
		{"unknown", errors.New("boom"), ClassRetryable},
		{"auth", fmt.Errorf("submit: %w", ErrAuthExpired), ClassAuth},
		{"rejected", fmt.Errorf("submit: %w", rejected), ClassRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestRejectedError(t *testing.T) {
	err := fmt.Errorf("submit: %w", &RejectedError{Status: 400, Message: "unknown ticket status"})

	assert.True(t, errors.Is(err, ErrOperationRejected))
	assert.False(t, Retryable(err))

	var rej *RejectedError
	assert.True(t, errors.As(err, &rej))
	assert.Equal(t, 400, rej.Status)
	assert.Contains(t, err.Error(), "unknown ticket status")
}
