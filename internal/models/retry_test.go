package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatchResult(t *testing.T) {
	result := &DispatchResult{
		Success: []string{"tok-a"},
		Failed:  map[string][]string{},
	}
	assert.False(t, result.HasFailures())
	assert.Equal(t, 0, result.FailedCount())

	result.Failed["bob"] = []string{"tok-b1", "tok-b2"}
	result.Failed["carol"] = []string{"tok-c1"}
	assert.True(t, result.HasFailures())
	assert.Equal(t, 3, result.FailedCount())
}

func TestDispatchResultRetryableFailed(t *testing.T) {
	result := &DispatchResult{
		Failed: map[string][]string{
			"bob":   {"tok-b1", "tok-b2"},
			"carol": {"tok-c1"},
		},
		Invalid: map[string][]string{
			"bob":   {"tok-b2"},
			"carol": {"tok-c1"},
		},
	}

	retryable := result.RetryableFailed()
	assert.Equal(t, map[string][]string{"bob": {"tok-b1"}}, retryable)
}
