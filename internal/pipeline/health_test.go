package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStageHealthStartsHealthy(t *testing.T) {
	h := NewStageHealth("x", time.Minute, false)
	assert.Equal(t, Healthy, h.Status().State)
}

func TestStageHealthErrorAfterNoOutputTimeout(t *testing.T) {
	h := NewStageHealth("x", 5*time.Millisecond, true)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Error, h.Status().State)
}

func TestStageHealthWarningAboveFivePercentErrorRate(t *testing.T) {
	h := NewStageHealth("x", 0, false)
	for i := 0; i < 18; i++ {
		h.RecordSuccess()
	}
	h.RecordError()
	assert.Equal(t, Warning, h.Status().State)
}

func TestStageHealthUnavailableOverridesRateCheck(t *testing.T) {
	h := NewStageHealth("x", 0, true)
	h.RecordSuccess()
	h.MarkUnavailable("no provider registered")
	status := h.Status()
	assert.Equal(t, Unavailable, status.State)
	assert.Equal(t, "no provider registered", status.Message)
}

func TestStageHealthErrorCountReflectsRecentErrorsOnly(t *testing.T) {
	h := NewStageHealth("x", 0, false)
	h.RecordSuccess()
	h.RecordError()
	h.RecordError()
	assert.Equal(t, 2, h.ErrorCount())
}
