package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fankserver/meetcap/internal/config"
)

// Manager owns every MeetingSession this process is running. Adapted from
// the teacher's session.Manager (map[string]*Session guarded by a
// RWMutex), generalized from one Discord transcription run per
// guild/channel pair to one MeetingSession per continuous capture.
type Manager struct {
	sessions map[string]*MeetingSession
	mu       sync.RWMutex
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*MeetingSession)}
}

// CreateSession constructs a new MeetingSession and starts its pipeline.
func (m *Manager) CreateSession(ctx context.Context, title string, cfg config.Config, deps Deps) (*MeetingSession, error) {
	s := newMeetingSession(uuid.New().String(), title, cfg, deps)

	if deps.Store != nil {
		if err := deps.Store.CreateSession(ctx, s.id, title); err != nil {
			return nil, err
		}
	}

	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{"session_id": s.id, "title": title}).Info("Session created")
	return s, nil
}

// GetSession retrieves a session by ID.
func (m *Manager) GetSession(sessionID string) (*MeetingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	return s, nil
}

// ListSessions returns every session this manager is tracking.
func (m *Manager) ListSessions() []*MeetingSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]*MeetingSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// sessionStatusUpdater is the subset of *storage.Store StopSession needs,
// kept narrow so this package does not have to import storage just to
// persist a final status.
type sessionStatusUpdater interface {
	UpdateSessionStatus(ctx context.Context, sessionID, status string) error
}

// StopSession stops a session's pipeline and persists its final status.
func (m *Manager) StopSession(ctx context.Context, sessionID string, force bool, store sessionStatusUpdater) error {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}
	s.Stop(force)
	if store != nil {
		return store.UpdateSessionStatus(ctx, sessionID, string(StatusCompleted))
	}
	return nil
}

// exportRecord is the JSON shape written by ExportSession, mirroring the
// teacher's ExportSession output but with the new domain's fields.
type exportRecord struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Status       Status    `json:"status"`
	StartedAt    time.Time `json:"startedAt"`
	Participants []string  `json:"participants"`
	Stats        Stats     `json:"stats"`
}

// ExportSession writes a session summary to a JSON file under exports/,
// the same convention the teacher's ExportSession used.
func (m *Manager) ExportSession(sessionID string) (string, error) {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return "", err
	}

	record := exportRecord{
		ID:           s.ID(),
		Title:        s.Title(),
		Status:       s.Status(),
		StartedAt:    s.startedAt,
		Participants: s.Participants(),
		Stats:        s.Stats(),
	}

	exportDir := "exports"
	// #nosec G301 - export directory needs to be readable for serving files
	if err := os.MkdirAll(exportDir, 0750); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	filename := fmt.Sprintf("session_%s_%s.json", record.ID, record.StartedAt.Format("20060102_150405"))
	path := filepath.Join(exportDir, filename)

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error marshaling session: %w", err)
	}

	// #nosec G306 - export files need to be readable by the user
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("error writing file: %w", err)
	}

	return path, nil
}
