package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	chunks []*Chunk
}

func (f *fakeSink) Push(chunk *Chunk) bool {
	f.chunks = append(f.chunks, chunk)
	return false
}

func newTestCapture(t *testing.T) *Capture {
	t.Helper()
	c := &Capture{
		cfg: CaptureConfig{
			ChunkDuration:    2 * time.Second,
			Overlap:          500 * time.Millisecond,
			SampleRate:       16000,
			Channels:         1,
			MaxBufferSeconds: 5,
		},
		silence: NewSilenceDetector(75.0),
		started: time.Unix(0, 0),
	}
	require.NotNil(t, c)
	return c
}

func TestDrainEmittableChunksProducesDenseOverlappedSequence(t *testing.T) {
	c := newTestCapture(t)
	sink := &fakeSink{}
	c.sink = sink

	chunkSamples := int(c.cfg.ChunkDuration.Seconds() * float64(c.cfg.SampleRate))
	stepSamples := int((c.cfg.ChunkDuration - c.cfg.Overlap).Seconds() * float64(c.cfg.SampleRate))

	// enough samples for exactly 3 chunks
	total := chunkSamples + 2*stepSamples
	c.appendSamples(make([]float32, total))
	c.drainEmittableChunks()

	require.Len(t, sink.chunks, 3)
	for i, chunk := range sink.chunks {
		assert.Equal(t, uint64(i), chunk.Sequence)
		assert.Len(t, chunk.Samples, chunkSamples)
	}

	step := c.cfg.ChunkDuration - c.cfg.Overlap
	for i := 1; i < len(sink.chunks); i++ {
		want := sink.chunks[i-1].StartTime.Add(step)
		assert.Equal(t, want, sink.chunks[i].StartTime)
	}
}

func TestAppendSamplesOverflowMarksNextChunkDiscontinuous(t *testing.T) {
	c := newTestCapture(t)
	sink := &fakeSink{}
	c.sink = sink

	maxSamples := int(c.cfg.MaxBufferSeconds * float64(c.cfg.SampleRate))
	c.appendSamples(make([]float32, maxSamples+1000))

	assert.True(t, c.overflow)
	assert.LessOrEqual(t, len(c.buf), maxSamples)

	c.drainEmittableChunks()
	require.NotEmpty(t, sink.chunks)
	assert.True(t, sink.chunks[0].Discontinuity)
	assert.False(t, c.overflow, "overflow flag should clear once consumed by an emitted chunk")
}

func TestAppendSamplesWithinCapDoesNotOverflow(t *testing.T) {
	c := newTestCapture(t)
	c.appendSamples(make([]float32, 100))
	assert.False(t, c.overflow)
}

func TestNewCaptureRejectsOverlapGreaterThanOrEqualDuration(t *testing.T) {
	_, err := NewCapture(CaptureConfig{
		ChunkDuration: time.Second,
		Overlap:       time.Second,
		SampleRate:    16000,
		Channels:      1,
	})
	assert.Error(t, err)
}
