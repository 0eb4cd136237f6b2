package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompletionStatusError(t *testing.T) {
	tests := []struct {
		status CompletionStatus
		want   error
	}{
		{StatusSuccess, nil},
		{StatusBackgroundStarted, nil},
		{StatusUnsupportedRequest, ErrUnsupportedRequest},
		{StatusTimeout, ErrSnoopTimeout},
		{StatusBusy, ErrBackgroundBusy},
		{StatusInvalidInput, ErrInvalidParameter},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.Error(), tt.status.String())
	}
}

func TestCompletionStatusString(t *testing.T) {
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "unknown", CompletionStatus(999).String())
}
