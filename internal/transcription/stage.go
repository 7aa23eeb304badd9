package transcription

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fankserver/meetcap/internal/audio"
	pipelineerrors "github.com/fankserver/meetcap/internal/errors"
	"github.com/fankserver/meetcap/internal/pipeline"
)

// StageConfig mirrors the transcription_* fields of the session config.
type StageConfig struct {
	ConfidenceThreshold float32
	Timeout             time.Duration
	MaxRetries          int
	InitialBackoff      time.Duration
	BackoffMultiplier   float64
	MaxBackoff          time.Duration
}

// DefaultStageConfig returns the spec.md section 4.2 defaults.
func DefaultStageConfig() StageConfig {
	return StageConfig{
		ConfidenceThreshold: 0.7,
		Timeout:             30 * time.Second,
		MaxRetries:          3,
		InitialBackoff:      time.Second,
		BackoffMultiplier:   2,
		MaxBackoff:          30 * time.Second,
	}
}

// Stage pulls chunks from the audio queue, calls the provider, and pushes
// segments onto the diarization queue. Adapted from the teacher's
// internal/pipeline/worker.go processSegment retry loop, generalized from a
// priority-queue-draining worker pool to the single ordered consumer
// spec.md section 5 requires for C2 (order must match input order).
type Stage struct {
	provider Provider
	cfg      StageConfig
	in       *pipeline.Queue[*audio.Chunk]
	out      *pipeline.Queue[*Segment]
	health   *pipeline.StageHealth
	events   *pipeline.EventBus
	logger   *logrus.Entry

	// previousContext carries the last emitted transcript forward as the
	// provider's prompt, per spec.md section 4.2's continuity requirement.
	previousContext string

	// pendingSilent counts consecutive silent chunks coalesced without a
	// provider call (spec.md section 4.2 "Batching").
	pendingSilent []*audio.Chunk
}

// NewStage wires a transcription stage between the audio and diarization
// queues.
func NewStage(provider Provider, cfg StageConfig, in *pipeline.Queue[*audio.Chunk], out *pipeline.Queue[*Segment], events *pipeline.EventBus) *Stage {
	return &Stage{
		provider: provider,
		cfg:      cfg,
		in:       in,
		out:      out,
		health:   pipeline.NewStageHealth("transcription", cfg.Timeout, false),
		events:   events,
		logger:   logrus.WithField("component", "transcription_stage"),
	}
}

// Health exposes the stage's HealthStatus tracker to the monitor.
func (s *Stage) Health() *pipeline.StageHealth { return s.health }

// Run drains the audio queue until ctx is cancelled, emitting segments in
// order. Empty transcripts are dropped per the stage contract.
func (s *Stage) Run(ctx context.Context) {
	s.logger.Info("Transcription stage started")
	defer s.logger.Info("Transcription stage stopped")

	for {
		chunk, ok := s.in.Pop(ctx)
		if !ok {
			return
		}

		if chunk.Silent {
			s.pendingSilent = append(s.pendingSilent, chunk)
			continue
		}

		s.flushCoalesced(ctx, chunk)
	}
}

// flushCoalesced combines any pending silent chunks into the coverage
// window of the next voiced chunk rather than issuing a provider call for
// silence, and processes the voiced chunk itself.
func (s *Stage) flushCoalesced(ctx context.Context, chunk *audio.Chunk) {
	covered := s.pendingSilent
	s.pendingSilent = nil

	result, err := s.transcribeWithRetry(ctx, chunk)
	if err != nil {
		s.health.RecordError()
		s.logger.WithError(err).WithField("sequence", chunk.Sequence).
			Warn("Transcription failed after retries, skipping chunk")
		s.events.Publish(pipeline.Event{
			Type: pipeline.EventTranscriptSkipped,
			Data: chunk.Sequence,
		})
		return
	}

	if result.Text == "" {
		return
	}

	s.previousContext = result.Text

	startTime := chunk.StartTime
	if len(covered) > 0 {
		startTime = covered[0].StartTime
	}

	segment := &Segment{
		ChunkID:       chunk.ID,
		Sequence:      chunk.Sequence,
		StartTime:     startTime,
		EndTime:       chunk.EndTime(),
		Text:          result.Text,
		Confidence:    result.Confidence,
		LowConfidence: result.Confidence < s.cfg.ConfidenceThreshold,
		Language:      result.Language,
		Words:         result.Words,
	}

	s.health.RecordSuccess()
	s.events.Publish(pipeline.Event{Type: pipeline.EventTranscriptProduced, Data: segment.Sequence})

	if err := s.out.Push(ctx, segment); err != nil {
		s.logger.WithError(err).Warn("Failed to push segment downstream")
	}
}

// transcribeWithRetry implements spec.md section 4.2's failure policy:
// exponential backoff (initial 1s, multiplier 2, cap 30s), at most 3
// attempts, then give up on this chunk.
func (s *Stage) transcribeWithRetry(ctx context.Context, chunk *audio.Chunk) (*Result, error) {
	opts := Options{PreviousContext: s.previousContext}

	backoff := s.cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff = time.Duration(float64(backoff) * s.cfg.BackoffMultiplier)
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
		}

		if !s.provider.Ready() {
			lastErr = pipelineerrors.ResourceUnavailable("transcription provider not ready", nil)
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		result, err := s.provider.Transcribe(callCtx, chunk.Samples, chunk.SampleRate, opts)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = pipelineerrors.Transcription(true, "provider call failed", err)
	}

	return nil, lastErr
}
