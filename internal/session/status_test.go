package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fankserver/meetcap/internal/pipeline"
)

func TestSystemStatusReportsAllStages(t *testing.T) {
	s := newTestMeetingSession("s1", "")
	status := s.SystemStatus()

	assert.Equal(t, "s1", status.SessionID)
	assert.Equal(t, StatusStarting, status.MeetingStatus)
	require.Contains(t, status.Stages, "audio_capture")
	require.Contains(t, status.Stages, "transcription")
	require.Contains(t, status.Stages, "diarization")
	require.Contains(t, status.Stages, "vectorization")
	require.Contains(t, status.Stages, "storage")
	assert.Equal(t, pipeline.Healthy, status.Stages["storage"].State)
}

func TestSystemStatusErrorCountsReflectStageErrors(t *testing.T) {
	s := newTestMeetingSession("s1b", "")
	s.orch.capture.Health().RecordError()
	s.orch.storageStage.Health().RecordError()
	s.orch.storageStage.Health().RecordError()

	status := s.SystemStatus()

	assert.Equal(t, 1, status.ErrorCounts.AudioErrors)
	assert.Equal(t, 2, status.ErrorCounts.StorageErrors)
	assert.Equal(t, 3, status.ErrorCounts.TotalErrors)
}

func TestSystemStatusQueueDepthsStartAtZero(t *testing.T) {
	s := newTestMeetingSession("s2", "")
	status := s.SystemStatus()
	for name, depth := range status.QueueDepths {
		assert.Zerof(t, depth, "queue %s should start empty", name)
	}
}

func TestMonitorOnceIgnoresNonRecordingSessions(t *testing.T) {
	s := newTestMeetingSession("s3", "")
	s.orch.storageStage.Health().MarkUnavailable("db down")
	s.MonitorOnce()
	assert.Equal(t, StatusStarting, s.Status())
}

func TestMonitorOnceStopsOnEssentialStageUnavailable(t *testing.T) {
	s := newTestMeetingSession("s5", "")
	s.status = StatusRecording
	s.orch.capture.Health().MarkUnavailable("device gone")

	s.MonitorOnce()
	assert.Equal(t, StatusStopping, s.Status())
}
