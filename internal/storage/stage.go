package storage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fankserver/meetcap/internal/diarization"
	"github.com/fankserver/meetcap/internal/pipeline"
	"github.com/fankserver/meetcap/internal/vectorization"
)

// SpeakerSource resolves the current SpeakerProfile for an id, so the
// storage stage can upsert whichever profiles were touched by a batch
// without importing diarization's clustering internals.
type SpeakerSource interface {
	Profile(id string) (diarization.Profile, bool)
}

// Stage drains VectorizedSegments into database_batch_size (or
// Config.FlushInterval deadline) transactions, the last stop of the
// pipeline (spec.md section 4.5). Structurally this is the same
// batch-accumulation shape as vectorization.Stage, generalized here to a
// durable sink instead of an embedding call.
type Stage struct {
	store       *Store
	vectorIndex *VectorIndex
	speakers    SpeakerSource
	sessionID   string
	cfg         Config
	in          *pipeline.Queue[*vectorization.Segment]
	health      *pipeline.StageHealth
	events      *pipeline.EventBus
	logger      *logrus.Entry
}

// NewStage wires a storage stage for one session. vectorIndex may be nil
// (e.g. when semantic search is disabled), in which case flush skips the
// OpenSearch mirror and only persists to Postgres.
func NewStage(store *Store, speakers SpeakerSource, sessionID string, cfg Config, in *pipeline.Queue[*vectorization.Segment], events *pipeline.EventBus, vectorIndex *VectorIndex) *Stage {
	return &Stage{
		store:       store,
		vectorIndex: vectorIndex,
		speakers:    speakers,
		sessionID:   sessionID,
		cfg:         cfg,
		in:          in,
		health:      pipeline.NewStageHealth("storage", cfg.FlushInterval, true),
		events:      events,
		logger:      logrus.WithField("component", "storage_stage"),
	}
}

// Health exposes the stage's HealthStatus tracker. Storage is essential:
// spec.md section 4.6 stops the session if it goes unavailable, since
// segments would otherwise be produced and silently lost.
func (s *Stage) Health() *pipeline.StageHealth { return s.health }

// Run accumulates a batch and flushes on size or deadline, whichever comes
// first, mirroring vectorization.Stage's accumulation loop.
func (s *Stage) Run(ctx context.Context) {
	s.logger.Info("Storage stage started")
	defer s.logger.Info("Storage stage stopped")

	var batch []*vectorization.Segment
	timer := time.NewTimer(s.cfg.FlushInterval)
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
			timer.Reset(s.cfg.FlushInterval)
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
			timer.Reset(s.cfg.FlushInterval)
		}
	}
}

func (s *Stage) flush(ctx context.Context, batch []*vectorization.Segment) {
	speakerIDs := make(map[string]bool)
	for _, seg := range batch {
		speakerIDs[seg.SpeakerID] = true
	}

	speakerRows := make([]SpeakerRecord, 0, len(speakerIDs))
	for id := range speakerIDs {
		profile, ok := s.speakers.Profile(id)
		if !ok {
			continue
		}
		speakerRows = append(speakerRows, SpeakerRecord{
			BaseModel:      BaseModel{ID: s.sessionID + ":" + profile.ID},
			SessionID:      s.sessionID,
			CanonicalID:    profile.ID,
			Name:           profile.Name,
			FirstSeen:      profile.FirstSeen,
			LastSeen:       profile.LastSeen,
			TotalSpeaking:  profile.TotalSpeaking.Milliseconds(),
			UtteranceCount: profile.UtteranceCount,
		})
	}

	rows, err := s.store.PersistBatch(ctx, s.sessionID, batch, speakerRows)
	if err != nil {
		s.health.RecordError()
		s.logger.WithError(err).Error("Failed to persist segment batch")
		return
	}

	s.health.RecordSuccess()

	if s.vectorIndex != nil {
		for _, row := range rows {
			if err := s.vectorIndex.IndexSegment(ctx, row); err != nil {
				s.logger.WithError(err).WithField("segment_id", row.ID).Warn("Failed to index segment in vector store")
			}
		}
	}

	for _, seg := range batch {
		s.events.Publish(pipeline.Event{Type: pipeline.EventSegmentStored, SessionID: s.sessionID, Data: seg.Sequence})
	}
}
