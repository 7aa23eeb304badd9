package vectorization

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fankserver/meetcap/internal/diarization"
	pipelineerr "github.com/fankserver/meetcap/internal/errors"
	"github.com/fankserver/meetcap/internal/pipeline"
)

// StageConfig mirrors the embedding_* fields of the session config.
type StageConfig struct {
	BatchSize int
	Timeout   time.Duration
	KeyPhraseCount int
}

// DefaultStageConfig returns the spec.md section 4.4/6 defaults.
func DefaultStageConfig() StageConfig {
	return StageConfig{BatchSize: 10, Timeout: 10 * time.Second, KeyPhraseCount: 5}
}

// Stage batches DiarizedSegments and submits them to the embedding
// provider. Structurally grounded on the teacher's
// internal/pipeline/speaker_dispatcher.go worker-pool + fair-scheduling
// idiom, adapted from "per-speaker round robin over individual segments"
// to "per-batch retry-then-fallback over groups of segments" — the unit of
// work here is a batch, not a speaker queue, because spec.md section 4.4's
// batching is size-or-deadline driven rather than per-producer.
type Stage struct {
	provider Provider
	vocab    *Vocabulary
	cfg      StageConfig
	in       *pipeline.Queue[*diarization.Segment]
	out      *pipeline.Queue[*Segment]
	health   *pipeline.StageHealth
	events   *pipeline.EventBus
	logger   *logrus.Entry
}

// NewStage wires a vectorization stage.
func NewStage(provider Provider, cfg StageConfig, in *pipeline.Queue[*diarization.Segment], out *pipeline.Queue[*Segment], events *pipeline.EventBus) *Stage {
	return &Stage{
		provider: provider,
		vocab:    NewVocabulary(),
		cfg:      cfg,
		in:       in,
		out:      out,
		health:   pipeline.NewStageHealth("vectorization", cfg.Timeout, false),
		events:   events,
		logger:   logrus.WithField("component", "vectorization_stage"),
	}
}

// Health exposes the stage's HealthStatus tracker to the monitor.
func (s *Stage) Health() *pipeline.StageHealth { return s.health }

// Run accumulates batches and flushes on size or deadline, whichever comes
// first (spec.md section 4.4 Algorithm).
func (s *Stage) Run(ctx context.Context) {
	s.logger.Info("Vectorization stage started")
	defer s.logger.Info("Vectorization stage stopped")

	var batch []*diarization.Segment
	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				s.flush(context.Background(), batch)
			}
			return
		case <-timer.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = nil
			}
			timer.Reset(s.cfg.Timeout)
		default:
		}

		popCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		seg, ok := s.in.Pop(popCtx)
		cancel()
		if !ok {
			if ctx.Err() != nil {
				if len(batch) > 0 {
					s.flush(context.Background(), batch)
				}
				return
			}
			continue
		}

		batch = append(batch, seg)
		if len(batch) >= s.cfg.BatchSize {
			s.flush(ctx, batch)
			batch = nil
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(s.cfg.Timeout)
		}
	}
}

// flush submits one batch, applying spec.md section 4.4's failure policy:
// retry the whole batch once, then fall back to per-segment embedding so
// one bad input does not poison the rest.
func (s *Stage) flush(ctx context.Context, batch []*diarization.Segment) {
	texts := make([]string, len(batch))
	for i, seg := range batch {
		texts[i] = seg.Text
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	embeddings, err := s.provider.Embed(callCtx, texts)
	cancel()

	if err != nil {
		s.logger.WithError(pipelineerr.Vectorization(true, "batch embedding failed, retrying", err)).
			Warn("Vectorization batch failed, retrying once")

		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		embeddings, err = s.provider.Embed(callCtx, texts)
		cancel()
	}

	if err != nil {
		s.health.RecordError()
		s.logger.WithError(err).Warn("Batch retry failed, falling back to per-segment embedding")
		s.flushPerSegment(ctx, batch)
		return
	}

	s.health.RecordSuccess()
	for i, seg := range batch {
		s.emit(ctx, seg, embeddings[i], 1.0)
	}
}

// flushPerSegment embeds each segment individually so a single bad input
// degrades only itself (spec.md section 4.4 Failure).
func (s *Stage) flushPerSegment(ctx context.Context, batch []*diarization.Segment) {
	for _, seg := range batch {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		embeddings, err := s.provider.Embed(callCtx, []string{seg.Text})
		cancel()

		if err != nil {
			s.logger.WithError(err).WithField("sequence", seg.Sequence).
				Warn("Segment embedding failed, emitting degraded fallback vector")
			s.emit(ctx, seg, make([]float32, s.provider.Dimension()), 0.0)
			continue
		}
		s.emit(ctx, seg, embeddings[0], 1.0)
	}
}

func (s *Stage) emit(ctx context.Context, seg *diarization.Segment, embedding []float32, quality float32) {
	termFreq := s.vocab.Observe(seg.Text)
	terms := make([]string, 0, len(termFreq))
	for t := range termFreq {
		terms = append(terms, t)
	}

	vectorized := &Segment{
		ChunkID:           seg.ChunkID,
		Sequence:          seg.Sequence,
		StartTime:         seg.StartTime,
		EndTime:           seg.EndTime,
		Text:              seg.Text,
		SpeakerID:         seg.SpeakerID,
		IsSpeakerChange:   seg.IsSpeakerChange,
		Embedding:         embedding,
		WordCount:         WordCount(seg.Text),
		KeyPhrases:        s.vocab.KeyPhrases(termFreq, s.cfg.KeyPhraseCount),
		TopicTags:         TopicTags(terms),
		TranscriptionConf: seg.Confidence,
		SpeakerConf:       seg.SpeakerConf,
		EmbeddingQuality:  quality,
		Degraded:          quality == 0,
	}
	vectorized.OverallConf = CompositeConfidence(vectorized.TranscriptionConf, vectorized.SpeakerConf, vectorized.EmbeddingQuality)

	s.events.Publish(pipeline.Event{Type: pipeline.EventSegmentVectorized, Data: vectorized.Sequence})

	if err := s.out.Push(ctx, vectorized); err != nil {
		s.logger.WithError(err).Warn("Failed to push vectorized segment downstream")
	}
}
