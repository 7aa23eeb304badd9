package control

// EmptyInput is used by tools that take no arguments (pause, resume, status).
type EmptyInput struct{}

// StartInput is the start tool's arguments (spec.md section 6:
// "start {title?, no_auto_record?}").
type StartInput struct {
	Title        string `json:"title,omitempty"`
	NoAutoRecord bool   `json:"no_auto_record,omitempty"`
}

// StartOutput reports the session the control surface just created.
type StartOutput struct {
	SessionID string `json:"session_id"`
}

// StopInput is the stop tool's arguments (spec.md section 6: "stop {force?}").
type StopInput struct {
	Force bool `json:"force,omitempty"`
}

// StageStatusOutput mirrors one entry of SystemStatus.Stages.
type StageStatusOutput struct {
	Stage   string `json:"stage"`
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// ErrorCountsOutput mirrors session.ErrorCounts in a JSON-friendly shape.
type ErrorCountsOutput struct {
	AudioErrors         int `json:"audio_errors"`
	TranscriptionErrors int `json:"transcription_errors"`
	DiarizationErrors   int `json:"diarization_errors"`
	VectorizationErrors int `json:"vectorization_errors"`
	StorageErrors       int `json:"storage_errors"`
	TotalErrors         int `json:"total_errors"`
}

// StatusOutput mirrors session.SystemStatus in a JSON-friendly shape
// (spec.md section 4.6).
type StatusOutput struct {
	SessionID      string              `json:"session_id"`
	MeetingStatus  string              `json:"meeting_status"`
	SegmentCount   int64               `json:"segment_count"`
	SpeakerCount   int                 `json:"speaker_count"`
	DurationSecond float64             `json:"duration_seconds"`
	Stages         []StageStatusOutput `json:"stages"`
	QueueDepths    map[string]int      `json:"queue_depths"`
	ErrorCounts    ErrorCountsOutput   `json:"error_counts"`
}

// SearchInput is the search tool's arguments (spec.md section 6:
// "search {query, mode, limit}").
type SearchInput struct {
	Query string `json:"query"`
	Mode  string `json:"mode"` // keyword | semantic | hybrid
	Limit int    `json:"limit,omitempty"`
}

// SearchHitOutput is one ranked result.
type SearchHitOutput struct {
	Sequence  uint64  `json:"sequence"`
	SpeakerID string  `json:"speaker_id"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

// SearchOutput is the search tool's result set.
type SearchOutput struct {
	Hits []SearchHitOutput `json:"hits"`
}

// IdentifyInput is the identify tool's arguments (spec.md section 6:
// "identify {speaker_id, name}").
type IdentifyInput struct {
	SpeakerID string `json:"speaker_id"`
	Name      string `json:"name"`
}

// MergeInput is the merge tool's arguments (spec.md section 6:
// "merge {from_id, to_id}").
type MergeInput struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
}

// DatabaseInput is the database tool's arguments (spec.md section 6:
// "database {export | compact | verify}").
type DatabaseInput struct {
	Operation string `json:"operation"`
}

// DatabaseOutput carries whichever fields the requested operation fills in.
type DatabaseOutput struct {
	ExportPath       string   `json:"export_path,omitempty"`
	CompactedBlobs   int64    `json:"compacted_audio_blobs,omitempty"`
	MissingSequences []uint64 `json:"missing_sequences,omitempty"`
}

// StatusResult wraps an acknowledgement message, used by tools that only
// report success/failure (pause, resume, identify, merge).
type StatusResult struct {
	Message string `json:"message"`
}
