// Package storage implements C5: durable persistence of VectorizedSegments,
// session metadata, and speaker profiles, plus the retention sweep for
// opt-in raw audio.
package storage

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel provides the common primary-key/timestamp fields every table
// uses, grounded on therealchrisrock-gitscribe's domain.BaseEntity (the
// only repo in the pack with a full gorm domain-model layer for a meeting
// transcription product).
type BaseModel struct {
	ID        string         `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

// SessionRecord is the durable row for a MeetingSession (spec.md section 3).
type SessionRecord struct {
	BaseModel
	Title                 string     `gorm:"column:title" json:"title"`
	Status                string     `gorm:"column:status;not null" json:"status"`
	StartedAt             time.Time  `gorm:"column:started_at;not null" json:"started_at"`
	EndedAt               *time.Time `gorm:"column:ended_at" json:"ended_at"`
	LastPersistedSequence uint64     `gorm:"column:last_persisted_sequence" json:"last_persisted_sequence"`
	ParticipantNames      string     `gorm:"column:participant_names" json:"participant_names"` // comma-joined

	Segments []SegmentRecord `gorm:"foreignKey:SessionID" json:"segments,omitempty"`
	Speakers []SpeakerRecord `gorm:"foreignKey:SessionID" json:"speakers,omitempty"`
}

func (SessionRecord) TableName() string { return "sessions" }

// SegmentRecord is the durable row for a VectorizedSegment.
type SegmentRecord struct {
	BaseModel
	SessionID       string    `gorm:"column:session_id;not null;index" json:"session_id"`
	Sequence        uint64    `gorm:"column:sequence;not null;index" json:"sequence"`
	StartTime       time.Time `gorm:"column:start_time;not null" json:"start_time"`
	EndTime         time.Time `gorm:"column:end_time;not null" json:"end_time"`
	Text            string    `gorm:"column:text;type:text;not null" json:"text"`
	SpeakerID       string    `gorm:"column:speaker_id;index" json:"speaker_id"`
	IsSpeakerChange bool      `gorm:"column:is_speaker_change" json:"is_speaker_change"`

	Embedding  []byte `gorm:"column:embedding;type:bytea" json:"-"` // float32 vector, little-endian packed
	WordCount  int    `gorm:"column:word_count" json:"word_count"`
	KeyPhrases string `gorm:"column:key_phrases" json:"key_phrases"` // comma-joined
	TopicTags  string `gorm:"column:topic_tags" json:"topic_tags"`   // comma-joined

	TranscriptionConf float32 `gorm:"column:transcription_conf" json:"transcription_conf"`
	SpeakerConf       float32 `gorm:"column:speaker_conf" json:"speaker_conf"`
	EmbeddingQuality  float32 `gorm:"column:embedding_quality" json:"embedding_quality"`
	OverallConf       float32 `gorm:"column:overall_conf" json:"overall_conf"`
	Degraded          bool    `gorm:"column:degraded" json:"degraded"`
}

func (SegmentRecord) TableName() string { return "segments" }

// SpeakerRecord is the durable row for a SpeakerProfile.
type SpeakerRecord struct {
	BaseModel
	SessionID      string    `gorm:"column:session_id;not null;index;uniqueIndex:idx_speakers_session_canonical" json:"session_id"`
	CanonicalID    string    `gorm:"column:canonical_id;not null;uniqueIndex:idx_speakers_session_canonical" json:"canonical_id"`
	Name           string    `gorm:"column:name" json:"name"`
	FirstSeen      time.Time `gorm:"column:first_seen" json:"first_seen"`
	LastSeen       time.Time `gorm:"column:last_seen" json:"last_seen"`
	TotalSpeaking  int64     `gorm:"column:total_speaking_ms" json:"total_speaking_ms"`
	UtteranceCount int64     `gorm:"column:utterance_count" json:"utterance_count"`
}

func (SpeakerRecord) TableName() string { return "speakers" }

// AudioBlobRecord stores opt-in raw audio, subject to the retention sweep
// (spec.md section 4.5 Retention).
type AudioBlobRecord struct {
	BaseModel
	SessionID  string    `gorm:"column:session_id;not null;index" json:"session_id"`
	Sequence   uint64    `gorm:"column:sequence;not null" json:"sequence"`
	CapturedAt time.Time `gorm:"column:captured_at;not null;index" json:"captured_at"`
	PCM        []byte    `gorm:"column:pcm;type:bytea" json:"-"`
}

func (AudioBlobRecord) TableName() string { return "audio_blobs" }
