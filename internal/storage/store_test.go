package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fankserver/meetcap/internal/diarization"
	"github.com/fankserver/meetcap/internal/pipeline"
	"github.com/fankserver/meetcap/internal/vectorization"
)

// newTestStore opens an in-memory sqlite database for tests, grounded on
// iamprashant-voice-ai's gorm.io/driver/sqlite dependency; Postgres-only
// features (ON CONFLICT target inference) behave the same under sqlite's
// gorm dialect for the (session_id, canonical_id) speaker upsert this
// package issues, which relies on SpeakerRecord's unique index.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&SessionRecord{}, &SegmentRecord{}, &SpeakerRecord{}, &AudioBlobRecord{}))
	return &Store{db: db, cfg: DefaultConfig()}
}

func TestCreateSessionAndUpdateStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, "sess-1", "Standup"))
	require.NoError(t, store.UpdateSessionStatus(ctx, "sess-1", "recording"))
	require.NoError(t, store.UpdateSessionStatus(ctx, "sess-1", "completed"))

	var row SessionRecord
	require.NoError(t, store.db.First(&row, "id = ?", "sess-1").Error)
	assert.Equal(t, "completed", row.Status)
	assert.NotNil(t, row.EndedAt)
}

func TestPersistBatchAdvancesSequenceAndStoresSegments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, "sess-2", "Planning"))

	segments := []*vectorization.Segment{
		{ChunkID: "c1", Sequence: 0, Text: "first", SpeakerID: "speaker_1", Embedding: []float32{0.1, 0.2}},
		{ChunkID: "c2", Sequence: 1, Text: "second", SpeakerID: "speaker_1", Embedding: []float32{0.3, 0.4}},
	}
	_, err := store.PersistBatch(ctx, "sess-2", segments, nil)
	require.NoError(t, err)

	var session SessionRecord
	require.NoError(t, store.db.First(&session, "id = ?", "sess-2").Error)
	assert.Equal(t, uint64(1), session.LastPersistedSequence)

	rows, err := store.Export(ctx, "sess-2")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "first", rows[0].Text)
	assert.Equal(t, []float32{0.1, 0.2}, decodeEmbedding(rows[0].Embedding))
}

func TestPersistBatchEmptyIsNoop(t *testing.T) {
	store := newTestStore(t)
	rows, err := store.PersistBatch(context.Background(), "sess-3", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestVerifyDetectsSequenceGaps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, "sess-4", "Gap test"))

	segments := []*vectorization.Segment{
		{ChunkID: "c1", Sequence: 0, Text: "first"},
		{ChunkID: "c3", Sequence: 3, Text: "fourth"},
	}
	_, err := store.PersistBatch(ctx, "sess-4", segments, nil)
	require.NoError(t, err)

	gaps, err := store.Verify(ctx, "sess-4")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, gaps)
}

func TestSweepExpiredAudioSkipsWhenRawAudioDisabled(t *testing.T) {
	store := newTestStore(t)
	store.cfg.SaveRawAudio = false
	n, err := store.SweepExpiredAudio(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepExpiredAudioDeletesOldBlobs(t *testing.T) {
	store := newTestStore(t)
	store.cfg.SaveRawAudio = true
	store.cfg.AudioRetention = time.Hour
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, "sess-5", "Retention"))
	require.NoError(t, store.SaveAudioBlob(ctx, "sess-5", 0, time.Now().Add(-2*time.Hour), []byte{1, 2, 3}))
	require.NoError(t, store.SaveAudioBlob(ctx, "sess-5", 1, time.Now(), []byte{4, 5, 6}))

	n, err := store.SweepExpiredAudio(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var remaining int64
	store.db.Model(&AudioBlobRecord{}).Count(&remaining)
	assert.Equal(t, int64(1), remaining)
}

// stubSpeakerSource implements SpeakerSource for stage tests without
// depending on the full clustering registry.
type stubSpeakerSource struct {
	profiles map[string]diarization.Profile
}

func (s *stubSpeakerSource) Profile(id string) (diarization.Profile, bool) {
	p, ok := s.profiles[id]
	return p, ok
}

func TestStageFlushesBatchOnSize(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, "sess-6", "Stage test"))

	speakers := &stubSpeakerSource{profiles: map[string]diarization.Profile{
		"speaker_1": {ID: "speaker_1", FirstSeen: time.Now(), LastSeen: time.Now(), UtteranceCount: 2},
	}}

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.FlushInterval = time.Second
	in := pipeline.NewQueue[*vectorization.Segment]("vectorization", 10)
	events := pipeline.NewEventBus(16)

	stage := NewStage(store, speakers, "sess-6", cfg, in, events, nil)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go stage.Run(runCtx)

	require.NoError(t, in.Push(ctx, &vectorization.Segment{ChunkID: "c1", Sequence: 0, Text: "a", SpeakerID: "speaker_1"}))
	require.NoError(t, in.Push(ctx, &vectorization.Segment{ChunkID: "c2", Sequence: 1, Text: "b", SpeakerID: "speaker_1"}))

	require.Eventually(t, func() bool {
		rows, err := store.Export(ctx, "sess-6")
		return err == nil && len(rows) == 2
	}, 2*time.Second, 10*time.Millisecond)
}
