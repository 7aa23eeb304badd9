package audio

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	pipelineerrors "github.com/fankserver/meetcap/internal/errors"
	"github.com/fankserver/meetcap/internal/pipeline"
)

// Supervisor owns the mutex-guarded start/stop lifecycle of a single
// session's Capture, generalized from the teacher's VoiceBot
// (JoinChannel/LeaveChannel/GetStatus guarding one discordgo.VoiceConnection
// at a time) to guarding one malgo device per meeting session instead.
type Supervisor struct {
	cfg CaptureConfig

	mu      sync.Mutex
	capture *Capture
	cancel  context.CancelFunc
	active  bool
	started time.Time

	health *pipeline.StageHealth

	logger *logrus.Entry
}

// NewSupervisor creates a device supervisor for the given capture config.
// audio_capture is an essential stage (spec.md section 4.6): a device that
// goes silent or crashes should force the session toward Stopping the same
// way a dead storage stage does.
func NewSupervisor(cfg CaptureConfig) *Supervisor {
	expectedPeriod := cfg.ChunkDuration - cfg.Overlap
	return &Supervisor{
		cfg:    cfg,
		health: pipeline.NewStageHealth("audio_capture", expectedPeriod, true),
		logger: logrus.WithField("component", "audio_supervisor"),
	}
}

// Health returns the capture stage's health tracker, for SystemStatus
// aggregation and the essential-stage monitor.
func (s *Supervisor) Health() *pipeline.StageHealth {
	return s.health
}

// StartCapture opens the microphone and runs capture until ctx is
// cancelled or StopCapture is called. Mirrors JoinChannel:
// an in-progress capture is torn down first so a session never has two
// live devices.
func (s *Supervisor) StartCapture(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		s.teardownLocked()
	}

	capture, err := NewCapture(s.cfg)
	if err != nil {
		s.health.RecordError()
		return pipelineerrors.AudioCapture(false, "creating capture device", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.capture = capture
	s.cancel = cancel
	s.active = true
	s.started = time.Now()

	go func() {
		if err := capture.Start(runCtx, sink); err != nil {
			s.logger.WithError(err).Error("Capture device stopped with error")
			s.health.RecordError()
		}
		s.mu.Lock()
		if s.capture == capture {
			s.active = false
		}
		s.mu.Unlock()
	}()

	return nil
}

// StopCapture releases the current device. Safe to call when idle.
func (s *Supervisor) StopCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

func (s *Supervisor) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.capture != nil {
		s.capture.Close()
	}
	s.capture = nil
	s.cancel = nil
	s.active = false
}

// Status reports whether a device is currently active, for the session
// status surface (spec.md section 4.6), mirroring GetStatus's shape.
type Status struct {
	Active  bool
	Uptime  time.Duration
}

// Status returns the current device state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return Status{Active: false}
	}
	return Status{Active: true, Uptime: time.Since(s.started)}
}
