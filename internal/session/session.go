// Package session owns the MeetingSession lifecycle (spec.md section 3):
// construction, state transitions, and the pipeline each session drives.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fankserver/meetcap/internal/config"
	"github.com/fankserver/meetcap/internal/diarization"
	"github.com/fankserver/meetcap/internal/pipeline"
)

// Status is a MeetingSession's lifecycle state (spec.md section 3).
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
	StatusStopping  Status = "stopping"
	StatusCompleted Status = "completed"
)

// Stats is the MeetingSession's running statistics.
type Stats struct {
	SegmentCount int64
	SpeakerCount int
	Duration     time.Duration
}

// MeetingSession is the root entity: one continuous meeting capture run
// from start to completion, owning the five-stage pipeline underneath it.
// Lifecycle: created on start, Starting->Recording once Start has launched
// capture and the stages (not on C1's first chunk), Recording<->Paused on
// user action,
// ->Stopping on stop, ->Completed once all queues drain or the stop
// deadline elapses.
type MeetingSession struct {
	mu sync.RWMutex

	id               string
	title            string
	status           Status
	startedAt        time.Time
	endedAt          *time.Time
	participantNames map[string]bool
	segmentCount     int64

	orch   *orchestrator
	logger *logrus.Entry
}

func newMeetingSession(id, title string, cfg config.Config, deps Deps) *MeetingSession {
	if cfg.SpeakerAnonymization {
		logrus.WithField("session_id", id).Warn("speaker_anonymization is set but has no effect")
	}
	return &MeetingSession{
		id:               id,
		title:            title,
		status:           StatusStarting,
		participantNames: make(map[string]bool),
		orch:             newOrchestrator(id, cfg, deps),
		logger:           logrus.WithField("session_id", id),
	}
}

// ID returns the session's identifier.
func (s *MeetingSession) ID() string { return s.id }

// Title returns the session's optional title.
func (s *MeetingSession) Title() string { return s.title }

// Status returns the session's current lifecycle state.
func (s *MeetingSession) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Stats returns a snapshot of the session's running statistics.
func (s *MeetingSession) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	duration := time.Since(s.startedAt)
	if s.endedAt != nil {
		duration = s.endedAt.Sub(s.startedAt)
	}
	return Stats{
		SegmentCount: s.segmentCount,
		SpeakerCount: len(s.orch.registry.Profiles()),
		Duration:     duration,
	}
}

// Participants returns the names recorded for this session so far.
func (s *MeetingSession) Participants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.participantNames))
	for n := range s.participantNames {
		names = append(names, n)
	}
	return names
}

// NameSpeaker records a human name for a speaker id and, since a named
// speaker is by definition a named participant, adds it to the session's
// participant set.
func (s *MeetingSession) NameSpeaker(speakerID, name string) error {
	if err := s.orch.registry.Rename(speakerID, name); err != nil {
		return err
	}
	s.mu.Lock()
	s.participantNames[name] = true
	s.mu.Unlock()
	return nil
}

// MergeSpeakers folds one speaker's profile into another's (control
// surface correction operation, spec.md section 4.3 Merge semantics).
func (s *MeetingSession) MergeSpeakers(fromID, toID string) error {
	return s.orch.registry.Merge(fromID, toID)
}

// Registry exposes the speaker registry for read-only queries.
func (s *MeetingSession) Registry() *diarization.Registry { return s.orch.registry }

// EventBus exposes the session's event bus for control-surface streaming.
func (s *MeetingSession) EventBus() *pipeline.EventBus { return s.orch.bus }

// Start transitions Starting->Recording and launches the pipeline. The
// transition to Recording happens as soon as the capture device has been
// created and the capture and stage goroutines are launched; it does not
// wait for the device to start or for the first chunk. A device that fails
// later shows up in the audio_capture health, not as an error from Start.
func (s *MeetingSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusStarting {
		s.mu.Unlock()
		return fmt.Errorf("session %s: cannot start from status %s", s.id, s.status)
	}
	s.mu.Unlock()

	if err := s.orch.start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.status = StatusRecording
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.orch.bus.Publish(pipeline.Event{Type: pipeline.EventSessionStatusChanged, SessionID: s.id, Data: StatusRecording})
	s.logger.Info("Session recording")
	return nil
}

// Pause transitions Recording->Paused by stopping capture without tearing
// down the pipeline, so downstream queues keep draining in-flight audio.
func (s *MeetingSession) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRecording {
		return fmt.Errorf("session %s: cannot pause from status %s", s.id, s.status)
	}
	s.orch.capture.StopCapture()
	s.status = StatusPaused
	s.orch.bus.Publish(pipeline.Event{Type: pipeline.EventSessionStatusChanged, SessionID: s.id, Data: StatusPaused})
	return nil
}

// Resume transitions Paused->Recording by restarting capture into the
// already-running pipeline's audio queue.
func (s *MeetingSession) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused {
		return fmt.Errorf("session %s: cannot resume from status %s", s.id, s.status)
	}
	sink := &fanoutSink{queue: s.orch.audioQueue, cache: s.orch.cache, bus: s.orch.bus, health: s.orch.capture.Health()}
	if err := s.orch.capture.StartCapture(ctx, sink); err != nil {
		return err
	}
	s.status = StatusRecording
	s.orch.bus.Publish(pipeline.Event{Type: pipeline.EventSessionStatusChanged, SessionID: s.id, Data: StatusRecording})
	return nil
}

// Stop transitions ->Stopping, drains the pipeline (or cancels immediately
// if force), and then ->Completed once C5 has committed its final
// transaction (spec.md section 4 Cancellation and timeouts).
func (s *MeetingSession) Stop(force bool) {
	s.mu.Lock()
	if s.status == StatusCompleted {
		s.mu.Unlock()
		return
	}
	s.status = StatusStopping
	s.mu.Unlock()
	s.orch.bus.Publish(pipeline.Event{Type: pipeline.EventSessionStatusChanged, SessionID: s.id, Data: StatusStopping})

	s.orch.stop(force)

	s.mu.Lock()
	now := time.Now()
	s.endedAt = &now
	s.status = StatusCompleted
	s.mu.Unlock()
	s.orch.bus.Publish(pipeline.Event{Type: pipeline.EventSessionStatusChanged, SessionID: s.id, Data: StatusCompleted})
	s.logger.Info("Session completed")
}

// MarkStopping is invoked by the monitor when an essential stage (C1, C5)
// goes Error or Unavailable, per spec.md section 4's stage-fatal error
// propagation policy. The session is Stopping when it returns; the drain
// and the move to Completed run in the background.
func (s *MeetingSession) MarkStopping() {
	s.mu.Lock()
	if s.status != StatusCompleted {
		s.status = StatusStopping
	}
	s.mu.Unlock()
	go s.Stop(false)
}
