package session

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fankserver/meetcap/internal/config"
)

// newTestMeetingSession builds a MeetingSession with its orchestrator
// constructed but never started, so tests can exercise lifecycle
// bookkeeping without touching the real microphone (mirrors the audio
// package's own newTestCapture pattern of bypassing hardware init in
// unit tests).
func newTestMeetingSession(id, title string) *MeetingSession {
	cfg := config.Default()
	return newMeetingSession(id, title, cfg, Deps{})
}

func TestNewManagerStartsEmpty(t *testing.T) {
	m := NewManager()
	assert.NotNil(t, m.sessions)
	assert.Empty(t, m.ListSessions())
}

func TestGetSessionNotFoundReturnsError(t *testing.T) {
	m := NewManager()
	_, err := m.GetSession("does-not-exist")
	assert.Error(t, err)
}

func TestManagerTracksInsertedSessions(t *testing.T) {
	m := NewManager()
	s := newTestMeetingSession("sess-1", "Weekly sync")

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	found, err := m.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Weekly sync", found.Title())
	assert.Len(t, m.ListSessions(), 1)
}

type stubStatusUpdater struct {
	lastSessionID string
	lastStatus    string
	calls         int
}

func (s *stubStatusUpdater) UpdateSessionStatus(_ context.Context, sessionID, status string) error {
	s.calls++
	s.lastSessionID = sessionID
	s.lastStatus = status
	return nil
}

func TestStopSessionTransitionsToCompletedAndPersists(t *testing.T) {
	m := NewManager()
	s := newTestMeetingSession("sess-2", "Retro")
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	store := &stubStatusUpdater{}
	require.NoError(t, m.StopSession(context.Background(), "sess-2", true, store))

	assert.Equal(t, StatusCompleted, s.Status())
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, "sess-2", store.lastSessionID)
	assert.Equal(t, string(StatusCompleted), store.lastStatus)
}

func TestStopSessionUnknownIDReturnsError(t *testing.T) {
	m := NewManager()
	assert.Error(t, m.StopSession(context.Background(), "ghost", true, nil))
}

func TestExportSessionWritesReadableJSON(t *testing.T) {
	m := NewManager()
	s := newTestMeetingSession("sess-3", "Export me")
	s.participantNames["Ada"] = true
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	path, err := m.ExportSession("sess-3")
	require.NoError(t, err)
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record exportRecord
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "sess-3", record.ID)
	assert.Equal(t, "Export me", record.Title)
	assert.Contains(t, record.Participants, "Ada")
}

func TestExportSessionUnknownIDReturnsError(t *testing.T) {
	m := NewManager()
	_, err := m.ExportSession("ghost")
	assert.Error(t, err)
}
