// Package audio implements C1, the audio capture stage: a ring buffer fed by
// the platform microphone, resampled to the session's fixed rate, emitted as
// dense, overlapped AudioChunks.
package audio

import "time"

// Chunk is a monotonically-sequenced unit of captured sound (spec.md
// section 3, AudioChunk). Samples are normalized floating point in [-1, 1].
type Chunk struct {
	ID          string
	Sequence    uint64
	StartTime   time.Time
	Duration    time.Duration
	SampleRate  int
	Channels    int
	Samples     []float32

	// Silent is set when RMS energy is below the silence floor and the VAD
	// finds no speech frame in the chunk. Chunks are
	// still emitted (downstream stages depend on dense sequence numbers) so
	// that C2 may skip remote calls on them without breaking ordering.
	Silent bool

	// Discontinuity marks a chunk emitted after a buffer overflow forced the
	// capture stage to discard un-emitted samples (spec.md section 4.1).
	Discontinuity bool
}

// EndTime returns the wall-clock time the chunk's audio span ends.
func (c Chunk) EndTime() time.Time {
	return c.StartTime.Add(c.Duration)
}
