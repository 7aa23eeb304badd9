package transcription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fankserver/meetcap/internal/audio"
	"github.com/fankserver/meetcap/internal/pipeline"
)

type flakyProvider struct {
	failures int
	calls    int
}

func (f *flakyProvider) Name() string { return "flaky" }
func (f *flakyProvider) Ready() bool  { return true }
func (f *flakyProvider) Close() error { return nil }
func (f *flakyProvider) Transcribe(_ context.Context, samples []float32, _ int, _ Options) (*Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient provider error")
	}
	return &Result{Text: "hello world", Confidence: 0.9}, nil
}

func newTestStage(t *testing.T, provider Provider) (*Stage, *pipeline.Queue[*audio.Chunk], *pipeline.Queue[*Segment]) {
	t.Helper()
	in := pipeline.NewQueue[*audio.Chunk]("audio", 10)
	out := pipeline.NewQueue[*Segment]("transcription", 10)
	cfg := DefaultStageConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	stage := NewStage(provider, cfg, in, out, pipeline.NewEventBus(16))
	return stage, in, out
}

func TestStageEmitsSegmentForVoicedChunk(t *testing.T) {
	stage, in, out := newTestStage(t, &MockProvider{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go stage.Run(ctx)

	require.NoError(t, in.Push(ctx, &audio.Chunk{ID: "c1", Sequence: 0, SampleRate: 16000}))

	seg, ok := out.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "c1", seg.ChunkID)
	assert.NotEmpty(t, seg.Text)
}

func TestStageSkipsSilentChunksWithoutProviderCall(t *testing.T) {
	provider := &flakyProvider{}
	stage, in, _ := newTestStage(t, provider)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go stage.Run(ctx)

	require.NoError(t, in.Push(ctx, &audio.Chunk{ID: "silent", Sequence: 0, Silent: true}))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, provider.calls)
}

func TestStageRetriesTransientFailuresThenSucceeds(t *testing.T) {
	provider := &flakyProvider{failures: 2}
	stage, in, out := newTestStage(t, provider)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go stage.Run(ctx)

	require.NoError(t, in.Push(ctx, &audio.Chunk{ID: "c1", Sequence: 0}))

	seg, ok := out.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "hello world", seg.Text)
	assert.Equal(t, 3, provider.calls)
}

func TestStageDropsChunkAfterExhaustingRetries(t *testing.T) {
	provider := &flakyProvider{failures: 100}
	stage, in, out := newTestStage(t, provider)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go stage.Run(ctx)

	require.NoError(t, in.Push(ctx, &audio.Chunk{ID: "c1", Sequence: 0}))
	require.NoError(t, in.Push(ctx, &audio.Chunk{ID: "c2", Sequence: 1}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, out.Len())
}

func TestRegistryGetUnregisteredProviderErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nonexistent")
	assert.Error(t, err)
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMockProvider())
	p, err := r.Get("mock")
	require.NoError(t, err)
	assert.True(t, p.Ready())
}
