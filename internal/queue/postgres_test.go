package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReclaimStatus(t *testing.T) {
	tests := []struct {
		name        string
		attempts    int
		maxAttempts int
		want        string
	}{
		{"untouched job is restored", 0, 3, "pending"},
		{"first attempt interrupted", 1, 3, "pending"},
		{"one attempt left", 2, 3, "pending"},
		{"final attempt interrupted", 3, 3, "failed"},
		{"escalation final attempt", 2, 2, "failed"},
		{"over the limit", 4, 3, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reclaimStatus(tt.attempts, tt.maxAttempts))
		})
	}
}
