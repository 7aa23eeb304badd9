// Package vectorization implements C4: batching DiarizedSegments, calling
// the embedding provider, and deriving search metadata before segments
// reach storage.
package vectorization

import "time"

// Segment is a VectorizedSegment ready for storage (spec.md section 3).
type Segment struct {
	ChunkID         string
	Sequence        uint64
	StartTime       time.Time
	EndTime         time.Time
	Text            string
	SpeakerID       string
	IsSpeakerChange bool

	Embedding []float32
	WordCount int
	KeyPhrases []string
	TopicTags  []string

	TranscriptionConf float32
	SpeakerConf       float32
	EmbeddingQuality  float32
	OverallConf       float32

	Degraded bool
}
