package diarization

import (
	"context"

	"github.com/sirupsen/logrus"

	pipelineerr "github.com/fankserver/meetcap/internal/errors"
	"github.com/fankserver/meetcap/internal/pipeline"
	"github.com/fankserver/meetcap/internal/transcription"
)

// Input pairs a transcript segment with the source samples its feature
// vector is extracted from, since C3 needs the underlying audio C2 already
// consumed (spec.md section 4.3 "Voice features").
type Input struct {
	Segment    *transcription.Segment
	Samples    []float32
	SampleRate int
}

// Stage is the single ordered consumer that attributes each segment to a
// speaker and updates the registry. Grounded on the teacher's worker
// pattern, but reduced to one goroutine per session: spec.md section 4.3's
// ordering contract (DiarizedSegments emitted in the same order
// TranscriptSegments arrived) rules out the teacher's multi-worker,
// round-robin dispatch — clustering decisions are inherently sequential
// since each one conditions on "the immediately prior emitted segment".
type Stage struct {
	registry  *Registry
	extractor *Extractor
	in        *pipeline.Queue[*Input]
	out       *pipeline.Queue[*Segment]
	health    *pipeline.StageHealth
	events    *pipeline.EventBus
	logger    *logrus.Entry
}

// NewStage wires a diarization stage.
func NewStage(registry *Registry, sampleRate int, in *pipeline.Queue[*Input], out *pipeline.Queue[*Segment], events *pipeline.EventBus) *Stage {
	return &Stage{
		registry:  registry,
		extractor: NewExtractor(sampleRate),
		in:        in,
		out:       out,
		health:    pipeline.NewStageHealth("diarization", 0, false),
		events:    events,
		logger:    logrus.WithField("component", "diarization_stage"),
	}
}

// Health exposes the stage's HealthStatus tracker to the monitor.
func (s *Stage) Health() *pipeline.StageHealth { return s.health }

// Run consumes inputs until ctx is cancelled.
func (s *Stage) Run(ctx context.Context) {
	s.logger.Info("Diarization stage started")
	defer s.logger.Info("Diarization stage stopped")

	for {
		input, ok := s.in.Pop(ctx)
		if !ok {
			return
		}
		s.process(ctx, input)
	}
}

func (s *Stage) process(ctx context.Context, input *Input) {
	seg := input.Segment

	diarized := &Segment{
		ChunkID:       seg.ChunkID,
		Sequence:      seg.Sequence,
		StartTime:     seg.StartTime,
		EndTime:       seg.EndTime,
		Text:          seg.Text,
		Confidence:    seg.Confidence,
		LowConfidence: seg.LowConfidence,
		Language:      seg.Language,
	}

	vector, err := s.extractor.Extract(input.Samples)
	if err != nil {
		diarized.SpeakerID, diarized.IsSpeakerChange = s.registry.AttributeUnknown()
		diarized.SpeakerConf = 0
		s.health.RecordError()
		s.logger.WithError(pipelineerr.Diarization(false, "feature extraction failed", err)).
			WithField("sequence", seg.Sequence).Debug("Attributed to sentinel unknown speaker")
	} else {
		diarized.SpeakerID, diarized.SpeakerConf, diarized.IsSpeakerChange = s.registry.Attribute(vector)
		s.health.RecordSuccess()
	}

	s.events.Publish(pipeline.Event{
		Type: pipeline.EventSpeakerAssigned,
		Data: diarized.SpeakerID,
	})

	if err := s.out.Push(ctx, diarized); err != nil {
		s.logger.WithError(err).Warn("Failed to push diarized segment downstream")
	}
}
