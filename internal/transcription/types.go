// Package transcription implements C2: pulling AudioChunks off the audio
// queue, calling the configured ASR provider, and emitting TranscriptSegments
// in the same order the chunks arrived.
package transcription

import "time"

// Segment is a transcribed span of speech, tagged with the chunk it came
// from so later stages can trace a word back to its audio (spec.md
// section 3, TranscriptSegment).
type Segment struct {
	ChunkID       string
	Sequence      uint64
	StartTime     time.Time
	EndTime       time.Time
	Text          string
	Confidence    float32
	LowConfidence bool
	Language      string
	Words         []WordTiming
}

// WordTiming is one recognized word with its span inside the segment.
type WordTiming struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float32
}

// Options carries per-call tuning passed to a provider.
type Options struct {
	PreviousContext string
	Language        string
	Temperature     float32
}

// Result is what a provider returns for one transcription call.
type Result struct {
	Text       string
	Confidence float32
	Language   string
	Words      []WordTiming
}
