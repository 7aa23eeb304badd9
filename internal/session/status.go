package session

import (
	"github.com/fankserver/meetcap/internal/pipeline"
)

// ErrorCounts is the last-minute error tally per stage, the same breakdown
// spec.md section 4.6's status surface reports (and the original
// implementation's ErrorCounts{ audio_errors, transcription_errors,
// diarization_errors, vectorization_errors, storage_errors, total_errors }).
type ErrorCounts struct {
	AudioErrors         int
	TranscriptionErrors int
	DiarizationErrors   int
	VectorizationErrors int
	StorageErrors       int
	TotalErrors         int
}

// SystemStatus aggregates a session's current lifecycle status, per-stage
// health, queue depths, and error counts (spec.md section 4.6), the exact
// shape the control surface's status tool call returns.
type SystemStatus struct {
	SessionID     string
	MeetingStatus Status
	Stats         Stats
	Stages        map[string]pipeline.HealthStatus
	QueueDepths   map[string]int
	ErrorCounts   ErrorCounts
}

// SystemStatus computes the session's current SystemStatus snapshot.
func (s *MeetingSession) SystemStatus() SystemStatus {
	stages := s.orch.stages()

	stageStatus := make(map[string]pipeline.HealthStatus, len(stages))
	for name, h := range stages {
		stageStatus[name] = h.Status()
	}

	errs := ErrorCounts{}
	for name, h := range stages {
		n := h.ErrorCount()
		errs.TotalErrors += n
		switch name {
		case "audio_capture":
			errs.AudioErrors = n
		case "transcription":
			errs.TranscriptionErrors = n
		case "diarization":
			errs.DiarizationErrors = n
		case "vectorization":
			errs.VectorizationErrors = n
		case "storage":
			errs.StorageErrors = n
		}
	}

	return SystemStatus{
		SessionID:     s.id,
		MeetingStatus: s.Status(),
		Stats:         s.Stats(),
		Stages:        stageStatus,
		QueueDepths:   s.orch.queueDepths(),
		ErrorCounts:   errs,
	}
}

// MonitorOnce checks every essential stage's health and transitions the
// session to Stopping if one has gone Error or Unavailable (spec.md section
// 4 "Propagation policy": stage-fatal errors on an essential stage (C1, C5)
// transition the session to Stopping). Checking at >= Error rather than
// only == Unavailable matters because nothing in the production path calls
// MarkUnavailable — the naturally
// reachable failure mode in a running process is Error (3x-no-output
// timeout or a sustained error rate), which would otherwise never trigger
// this propagation. Intended to run on a periodic ticker alongside the
// session.
func (s *MeetingSession) MonitorOnce() {
	if s.Status() != StatusRecording {
		return
	}
	for _, h := range s.orch.stages() {
		if !h.Essential() {
			continue
		}
		state := h.Status().State
		if state == pipeline.Error || state == pipeline.Unavailable {
			s.MarkStopping()
			return
		}
	}
}
