// Package diarization implements C3: attributing each TranscriptSegment to
// a speaker via online, session-local clustering, and maintaining the
// SpeakerRegistry that is the system's only cross-segment shared state.
package diarization

import "time"

// Segment is a transcript segment attributed to a speaker (spec.md
// section 3, DiarizedSegment).
type Segment struct {
	ChunkID         string
	Sequence        uint64
	StartTime       time.Time
	EndTime         time.Time
	Text            string
	Confidence      float32
	LowConfidence   bool
	Language        string

	SpeakerID       string
	SpeakerConf     float32
	IsSpeakerChange bool
}

// SentinelUnknownSpeaker is attributed when feature extraction fails on a
// silent or corrupt segment (spec.md section 4.3 Failure).
const SentinelUnknownSpeaker = "speaker_unknown"
