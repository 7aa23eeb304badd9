package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fankserver/meetcap/internal/diarization"
)

func fakeVector() diarization.Vector {
	mfcc := make([]float64, 13)
	for i := range mfcc {
		mfcc[i] = float64(i)
	}
	return diarization.Vector{F0Mean: 150, F0StdDev: 5, EnergyMean: 0.2, SpectralCentroid: 800, MFCC: mfcc}
}

func TestNewMeetingSessionStartsInStarting(t *testing.T) {
	s := newTestMeetingSession("s1", "Daily standup")
	assert.Equal(t, StatusStarting, s.Status())
	assert.Equal(t, "s1", s.ID())
	assert.Empty(t, s.Participants())
}

func TestPauseRejectedOutsideRecording(t *testing.T) {
	s := newTestMeetingSession("s2", "")
	err := s.Pause()
	assert.Error(t, err)
	assert.Equal(t, StatusStarting, s.Status())
}

func TestResumeRejectedOutsidePaused(t *testing.T) {
	s := newTestMeetingSession("s3", "")
	err := s.Resume(context.Background())
	assert.Error(t, err)
}

func TestStopFromStartingTransitionsToCompletedWithoutPanicking(t *testing.T) {
	s := newTestMeetingSession("s4", "")
	s.Stop(true)
	assert.Equal(t, StatusCompleted, s.Status())
	assert.NotNil(t, s.endedAt)
}

func TestStopIsIdempotentOnceCompleted(t *testing.T) {
	s := newTestMeetingSession("s5", "")
	s.Stop(true)
	first := *s.endedAt
	s.Stop(true)
	assert.Equal(t, first, *s.endedAt)
}

func TestNameSpeakerRecordsParticipant(t *testing.T) {
	s := newTestMeetingSession("s6", "")
	// Seed a profile the way the diarization registry would after
	// attributing a segment, so Rename has something to act on.
	_, _, _ = s.orch.registry.Attribute(fakeVector())
	profiles := s.orch.registry.Profiles()
	require.NotEmpty(t, profiles)

	require.NoError(t, s.NameSpeaker(profiles[0].ID, "Grace"))
	assert.Contains(t, s.Participants(), "Grace")
}

func TestStatsReflectsSpeakerCount(t *testing.T) {
	s := newTestMeetingSession("s7", "")
	_, _, _ = s.orch.registry.Attribute(fakeVector())
	stats := s.Stats()
	assert.Equal(t, 1, stats.SpeakerCount)
}
