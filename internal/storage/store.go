package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	pipelineerr "github.com/fankserver/meetcap/internal/errors"
	"github.com/fankserver/meetcap/internal/vectorization"
)

// Config holds the database_* and audio_retention_hours/save_raw_audio
// fields of the session config (spec.md section 4.5).
type Config struct {
	DSN            string
	BatchSize      int
	FlushInterval  time.Duration
	SaveRawAudio   bool
	AudioRetention time.Duration
	MigrationsPath string
}

// DefaultConfig returns the spec.md section 4.5/6 storage defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:      50,
		FlushInterval:  2 * time.Second,
		SaveRawAudio:   false,
		AudioRetention: 24 * time.Hour,
	}
}

// Store owns the gorm connection, the batched transactional writer, and the
// retention sweep. Grounded on therealchrisrock-gitscribe's gorm-backed
// domain layer (entity/TableName conventions in models.go) and the
// teacher's own queue-draining worker shape, generalized here to "drain a
// storage queue into database_batch_size transactions" (spec.md section
// 4.5).
type Store struct {
	db     *gorm.DB
	cfg    Config
	logger *logrus.Entry
}

// Open connects to Postgres, runs migrations, and returns a ready Store.
func Open(cfg Config) (*Store, error) {
	db, err := gorm.Open(gormpg.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, pipelineerr.Storage(false, "opening database connection", err)
	}

	if cfg.MigrationsPath != "" {
		if err := runMigrations(cfg.DSN, cfg.MigrationsPath); err != nil {
			return nil, pipelineerr.Storage(false, "running migrations", err)
		}
	}

	return &Store{db: db, cfg: cfg, logger: logrus.WithField("component", "storage_stage")}, nil
}

func runMigrations(dsn, path string) error {
	db, err := gorm.Open(gormpg.Open(dsn), &gorm.Config{})
	if err != nil {
		return err
	}
	conn, err := db.DB()
	if err != nil {
		return err
	}
	driver, err := migratepg.WithInstance(conn, &migratepg.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// CreateSession inserts a new session row at the start of a meeting.
func (s *Store) CreateSession(ctx context.Context, id, title string) error {
	record := SessionRecord{
		BaseModel: BaseModel{ID: id},
		Title:     title,
		Status:    "starting",
		StartedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return pipelineerr.Storage(true, "creating session record", err)
	}
	return nil
}

// UpdateSessionStatus persists a MeetingSession status transition.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	updates := map[string]interface{}{"status": status}
	if status == "completed" {
		now := time.Now()
		updates["ended_at"] = &now
	}
	if err := s.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("id = ?", sessionID).Updates(updates).Error; err != nil {
		return pipelineerr.Storage(true, "updating session status", err)
	}
	return nil
}

// PersistBatch commits one transaction containing new segments, the
// affected speaker profile upserts, and the session's advanced
// last_persisted_sequence (spec.md section 4.5 Batching and durability).
// last_persisted_sequence lets recovery recompute statistics deterministically
// from stored rows rather than trusting in-memory state that may be gone.
// Returns the inserted rows (with generated IDs) so the caller can mirror
// the same batch into the vector index.
func (s *Store) PersistBatch(ctx context.Context, sessionID string, segments []*vectorization.Segment, speakers []SpeakerRecord) ([]SegmentRecord, error) {
	if len(segments) == 0 {
		return nil, nil
	}

	rows := make([]SegmentRecord, len(segments))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq uint64
		for i, seg := range segments {
			rows[i] = SegmentRecord{
				BaseModel:         BaseModel{ID: uuid.New().String()},
				SessionID:         sessionID,
				Sequence:          seg.Sequence,
				StartTime:         seg.StartTime,
				EndTime:           seg.EndTime,
				Text:              seg.Text,
				SpeakerID:         seg.SpeakerID,
				IsSpeakerChange:   seg.IsSpeakerChange,
				Embedding:         encodeEmbedding(seg.Embedding),
				WordCount:         seg.WordCount,
				KeyPhrases:        strings.Join(seg.KeyPhrases, ","),
				TopicTags:         strings.Join(seg.TopicTags, ","),
				TranscriptionConf: seg.TranscriptionConf,
				SpeakerConf:       seg.SpeakerConf,
				EmbeddingQuality:  seg.EmbeddingQuality,
				OverallConf:       seg.OverallConf,
				Degraded:          seg.Degraded,
			}
			if seg.Sequence > maxSeq {
				maxSeq = seg.Sequence
			}
		}

		if err := tx.Create(&rows).Error; err != nil {
			return pipelineerr.Storage(true, "inserting segment batch", err)
		}

		for _, speaker := range speakers {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "session_id"}, {Name: "canonical_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "last_seen", "total_speaking_ms", "utterance_count"}),
			}).Create(&speaker).Error
			if err != nil {
				return pipelineerr.Storage(true, "upserting speaker profile", err)
			}
		}

		if err := tx.Model(&SessionRecord{}).Where("id = ?", sessionID).
			Update("last_persisted_sequence", maxSeq).Error; err != nil {
			return pipelineerr.Storage(true, "advancing last_persisted_sequence", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SaveAudioBlob persists a chunk of raw audio when save_raw_audio is set.
func (s *Store) SaveAudioBlob(ctx context.Context, sessionID string, sequence uint64, capturedAt time.Time, pcm []byte) error {
	if !s.cfg.SaveRawAudio {
		return nil
	}
	record := AudioBlobRecord{
		BaseModel:  BaseModel{ID: uuid.New().String()},
		SessionID:  sessionID,
		Sequence:   sequence,
		CapturedAt: capturedAt,
		PCM:        pcm,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return pipelineerr.Storage(true, "saving raw audio blob", err)
	}
	return nil
}

// SweepExpiredAudio deletes raw audio blobs older than the configured
// retention window (spec.md section 4.5 Retention). It runs only when
// Compact is called; there is no periodic background sweep.
func (s *Store) SweepExpiredAudio(ctx context.Context) (int64, error) {
	if !s.cfg.SaveRawAudio {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.cfg.AudioRetention)
	result := s.db.WithContext(ctx).Where("captured_at < ?", cutoff).Delete(&AudioBlobRecord{})
	if result.Error != nil {
		return 0, pipelineerr.Storage(true, "sweeping expired audio", result.Error)
	}
	return result.RowsAffected, nil
}

// Export returns every segment for a session ordered by sequence; Verify
// uses it to check sequence contiguity.
func (s *Store) Export(ctx context.Context, sessionID string) ([]SegmentRecord, error) {
	var rows []SegmentRecord
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("sequence ASC").Find(&rows).Error; err != nil {
		return nil, pipelineerr.Storage(true, "exporting session segments", err)
	}
	return rows, nil
}

// Verify checks sequence contiguity within the stored segments (the
// durability invariant that recovery recomputes statistics deterministically
// from stored segments requires no undetected holes in the sequence).
func (s *Store) Verify(ctx context.Context, sessionID string) ([]uint64, error) {
	rows, err := s.Export(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var gaps []uint64
	for i := 1; i < len(rows); i++ {
		if rows[i].Sequence > rows[i-1].Sequence+1 {
			for missing := rows[i-1].Sequence + 1; missing < rows[i].Sequence; missing++ {
				gaps = append(gaps, missing)
			}
		}
	}
	return gaps, nil
}

// SearchKeyword does a SQL ILIKE scan over a session's stored transcript
// text, the keyword half of the control surface's search command
// (mode=semantic instead queries the vector index; mode=hybrid merges
// both result sets).
func (s *Store) SearchKeyword(ctx context.Context, sessionID, query string, limit int) ([]SegmentRecord, error) {
	var rows []SegmentRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND text ILIKE ?", sessionID, "%"+query+"%").
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, pipelineerr.Storage(true, "keyword search", err)
	}
	return rows, nil
}

// Compact runs a VACUUM on the segments table and sweeps expired raw audio,
// the control surface's database.compact operation (spec.md section 6,
// SPEC_FULL supplemented feature 2).
func (s *Store) Compact(ctx context.Context) (sweptAudioBlobs int64, err error) {
	if err := s.db.WithContext(ctx).Exec("VACUUM " + SegmentRecord{}.TableName()).Error; err != nil {
		return 0, pipelineerr.Storage(true, "vacuuming segments table", err)
	}
	return s.SweepExpiredAudio(ctx)
}

func encodeEmbedding(vec []float32) []byte {
	out := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeEmbedding(raw []byte) []float32 {
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec
}
