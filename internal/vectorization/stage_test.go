package vectorization

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fankserver/meetcap/internal/diarization"
	"github.com/fankserver/meetcap/internal/pipeline"
)

type failNTimesProvider struct {
	failures  int
	calls     int
	dimension int
}

func (f *failNTimesProvider) Name() string   { return "flaky" }
func (f *failNTimesProvider) Dimension() int { return f.dimension }
func (f *failNTimesProvider) Ready() bool    { return true }
func (f *failNTimesProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("provider unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, f.dimension)
	}
	return out, nil
}

func newTestStage(provider Provider, batchSize int) (*Stage, *pipeline.Queue[*diarization.Segment], *pipeline.Queue[*Segment]) {
	in := pipeline.NewQueue[*diarization.Segment]("diarization", 20)
	out := pipeline.NewQueue[*Segment]("vectorization", 20)
	cfg := DefaultStageConfig()
	cfg.BatchSize = batchSize
	cfg.Timeout = 200 * time.Millisecond
	stage := NewStage(provider, cfg, in, out, pipeline.NewEventBus(16))
	return stage, in, out
}

func TestStageFlushesOnBatchSize(t *testing.T) {
	provider := NewMockProvider(8)
	stage, in, out := newTestStage(provider, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go stage.Run(ctx)

	require.NoError(t, in.Push(ctx, &diarization.Segment{Sequence: 0, Text: "hello there"}))
	require.NoError(t, in.Push(ctx, &diarization.Segment{Sequence: 1, Text: "general kenobi"}))

	seg1, ok := out.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, uint64(0), seg1.Sequence)
	assert.Len(t, seg1.Embedding, 8)

	seg2, ok := out.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, uint64(1), seg2.Sequence)
}

func TestStageFlushesOnDeadlineWithPartialBatch(t *testing.T) {
	provider := NewMockProvider(4)
	stage, in, out := newTestStage(provider, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go stage.Run(ctx)

	require.NoError(t, in.Push(ctx, &diarization.Segment{Sequence: 0, Text: "partial batch"}))

	popCtx, popCancel := context.WithTimeout(context.Background(), time.Second)
	defer popCancel()
	seg, ok := out.Pop(popCtx)
	require.True(t, ok)
	assert.Equal(t, uint64(0), seg.Sequence)
}

func TestStageFallsBackPerSegmentAfterBatchRetryFails(t *testing.T) {
	provider := &failNTimesProvider{failures: 100, dimension: 4}
	stage, in, out := newTestStage(provider, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go stage.Run(ctx)

	require.NoError(t, in.Push(ctx, &diarization.Segment{Sequence: 0, Text: "degraded path"}))

	popCtx, popCancel := context.WithTimeout(context.Background(), time.Second)
	defer popCancel()
	seg, ok := out.Pop(popCtx)
	require.True(t, ok)
	assert.True(t, seg.Degraded)
	assert.Equal(t, float32(0), seg.EmbeddingQuality)
}

func TestCompositeConfidenceIsMinimum(t *testing.T) {
	assert.Equal(t, float32(0.5), CompositeConfidence(0.9, 0.5, 1.0))
}

func TestVocabularyKeyPhrasesRanksRareTermsHigher(t *testing.T) {
	v := NewVocabulary()
	v.Observe("the budget meeting covers the quarterly budget review")
	tf := v.Observe("budget roadmap")
	phrases := v.KeyPhrases(tf, 3)
	assert.NotEmpty(t, phrases)
	assert.Equal(t, "roadmap", phrases[0])
}

func TestTopicTagsMapsKnownKeywords(t *testing.T) {
	tags := TopicTags([]string{"deploy", "budget", "unrelated"})
	assert.Contains(t, tags, "engineering")
	assert.Contains(t, tags, "finance")
}
