package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fankserver/meetcap/internal/audio"
	"github.com/fankserver/meetcap/internal/config"
	"github.com/fankserver/meetcap/internal/diarization"
	"github.com/fankserver/meetcap/internal/pipeline"
	"github.com/fankserver/meetcap/internal/storage"
	"github.com/fankserver/meetcap/internal/transcription"
	"github.com/fankserver/meetcap/internal/vectorization"
)

// chunkSampleCache holds the raw samples for in-flight chunks so the
// diarization stage can recover the audio a transcript segment was
// produced from (spec.md section 4.3 "Voice features"), without the C2/C3
// queues having to carry full audio payloads on every hop. Bounded by
// capacity rather than time, since a stalled downstream stage should not
// let this grow unbounded.
type chunkSampleCache struct {
	mu       sync.Mutex
	samples  map[string][]float32
	order    []string
	capacity int
}

func newChunkSampleCache(capacity int) *chunkSampleCache {
	return &chunkSampleCache{samples: make(map[string][]float32), capacity: capacity}
}

func (c *chunkSampleCache) put(id string, samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[id] = samples
	c.order = append(c.order, id)
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.samples, oldest)
	}
}

func (c *chunkSampleCache) take(id string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.samples[id]
	delete(c.samples, id)
	return s, ok
}

// fanoutSink implements audio.Sink: it feeds the audio queue (with
// drop-oldest backpressure, spec.md section 4.5's two-tier policy) and
// records each chunk's samples in the cache the diarization adapter reads
// from later in the pipeline.
type fanoutSink struct {
	queue  *pipeline.Queue[*audio.Chunk]
	cache  *chunkSampleCache
	bus    *pipeline.EventBus
	health *pipeline.StageHealth
}

func (f *fanoutSink) Push(chunk *audio.Chunk) bool {
	f.cache.put(chunk.ID, chunk.Samples)
	dropped := f.queue.PushDropOldest(chunk)
	if dropped {
		f.bus.Publish(pipeline.Event{Type: pipeline.EventChunkDropped, Data: chunk.Sequence})
		f.health.RecordError()
	} else {
		f.bus.Publish(pipeline.Event{Type: pipeline.EventChunkCaptured, Data: chunk.Sequence})
		f.health.RecordSuccess()
	}
	return dropped
}

// Deps carries the already-constructed, config-selected providers and
// store; choosing between the mock/whisper/http transcription and
// vectorization providers is the control surface's job, not the
// orchestrator's.
type Deps struct {
	TranscriptionProvider transcription.Provider
	EmbeddingProvider     vectorization.Provider
	Store                 *storage.Store
	VectorIndex           *storage.VectorIndex
}

// orchestrator wires C1 through C5 into one running pipeline for a single
// session: each stage owns its queue boundary, and orchestrator is
// responsible only for construction, the diarization-input adapter, and
// coordinated shutdown. Generalized from the teacher's internal/bot.Bot,
// which owned one voice-channel connection end to end; here a session owns
// five stages instead of one Discord connection.
type orchestrator struct {
	cfg       config.Config
	sessionID string

	capture *audio.Supervisor
	cache   *chunkSampleCache
	bus     *pipeline.EventBus

	audioQueue      *pipeline.Queue[*audio.Chunk]
	transcriptQueue *pipeline.Queue[*transcription.Segment]
	diarizationIn   *pipeline.Queue[*diarization.Input]
	diarizedQueue   *pipeline.Queue[*diarization.Segment]
	vectorQueue     *pipeline.Queue[*vectorization.Segment]

	transcriptionStage *transcription.Stage
	diarizationStage   *diarization.Stage
	vectorizationStage *vectorization.Stage
	storageStage       *storage.Stage

	registry *diarization.Registry

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logrus.Entry
}

func newOrchestrator(sessionID string, cfg config.Config, deps Deps) *orchestrator {
	queueCap := cfg.MaxProcessingQueueSize
	bus := pipeline.NewEventBus(queueCap * 4)
	cache := newChunkSampleCache(queueCap * 2)

	audioQueue := pipeline.NewQueue[*audio.Chunk]("audio", queueCap)
	transcriptQueue := pipeline.NewQueue[*transcription.Segment]("transcript", queueCap)
	diarizationIn := pipeline.NewQueue[*diarization.Input]("diarization_input", queueCap)
	diarizedQueue := pipeline.NewQueue[*diarization.Segment]("diarized", queueCap)
	vectorQueue := pipeline.NewQueue[*vectorization.Segment]("vectorized", queueCap)

	transcriptionCfg := transcription.DefaultStageConfig()
	transcriptionCfg.ConfidenceThreshold = float32(cfg.TranscriptionConfidenceThreshold)
	transcriptionCfg.Timeout = time.Duration(cfg.TranscriptionTimeoutSeconds * float64(time.Second))

	registry := diarization.NewRegistry(cfg.SpeakerChangeThreshold)

	vectorizationCfg := vectorization.DefaultStageConfig()
	vectorizationCfg.BatchSize = cfg.EmbeddingBatchSize
	vectorizationCfg.Timeout = time.Duration(cfg.EmbeddingTimeoutSeconds * float64(time.Second))

	storageCfg := storage.DefaultConfig()
	storageCfg.BatchSize = cfg.DatabaseBatchSize
	storageCfg.SaveRawAudio = cfg.SaveRawAudio
	storageCfg.AudioRetention = time.Duration(cfg.AudioRetentionHours) * time.Hour

	return &orchestrator{
		cfg:       cfg,
		sessionID: sessionID,
		capture: audio.NewSupervisor(audio.CaptureConfig{
			ChunkDuration:    time.Duration(cfg.AudioChunkDuration * float64(time.Second)),
			Overlap:          time.Duration(cfg.AudioOverlap * float64(time.Second)),
			SampleRate:       cfg.SampleRate,
			Channels:         cfg.Channels,
			MaxBufferSeconds: 30,
		}),
		cache:              cache,
		bus:                bus,
		audioQueue:         audioQueue,
		transcriptQueue:    transcriptQueue,
		diarizationIn:      diarizationIn,
		diarizedQueue:      diarizedQueue,
		vectorQueue:        vectorQueue,
		transcriptionStage: transcription.NewStage(deps.TranscriptionProvider, transcriptionCfg, audioQueue, transcriptQueue, bus),
		diarizationStage:   diarization.NewStage(registry, cfg.SampleRate, diarizationIn, diarizedQueue, bus),
		vectorizationStage: vectorization.NewStage(deps.EmbeddingProvider, vectorizationCfg, diarizedQueue, vectorQueue, bus),
		storageStage:       storage.NewStage(deps.Store, registry, sessionID, storageCfg, vectorQueue, bus, deps.VectorIndex),
		registry:           registry,
		logger:             logrus.WithField("session_id", sessionID),
	}
}

// stages returns each stage's health tracker, keyed by name, for
// SystemStatus aggregation.
func (o *orchestrator) stages() map[string]*pipeline.StageHealth {
	return map[string]*pipeline.StageHealth{
		"audio_capture": o.capture.Health(),
		"transcription": o.transcriptionStage.Health(),
		"diarization":   o.diarizationStage.Health(),
		"vectorization": o.vectorizationStage.Health(),
		"storage":       o.storageStage.Health(),
	}
}

// queueDepths returns each queue's current length, for SystemStatus.
func (o *orchestrator) queueDepths() map[string]int {
	return map[string]int{
		"audio":             o.audioQueue.Len(),
		"transcript":        o.transcriptQueue.Len(),
		"diarization_input": o.diarizationIn.Len(),
		"diarized":          o.diarizedQueue.Len(),
		"vectorized":        o.vectorQueue.Len(),
	}
}

// start launches audio capture and every stage goroutine, plus the
// diarization-input adapter that pairs each transcript with its source
// samples.
func (o *orchestrator) start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	sink := &fanoutSink{queue: o.audioQueue, cache: o.cache, bus: o.bus, health: o.capture.Health()}
	if err := o.capture.StartCapture(ctx, sink); err != nil {
		cancel()
		return err
	}

	o.wg.Add(4)
	go func() { defer o.wg.Done(); o.transcriptionStage.Run(ctx) }()
	go func() { defer o.wg.Done(); o.diarizationStage.Run(ctx) }()
	go func() { defer o.wg.Done(); o.vectorizationStage.Run(ctx) }()
	go func() { defer o.wg.Done(); o.storageStage.Run(ctx) }()

	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.runDiarizationAdapter(ctx) }()

	return nil
}

// runDiarizationAdapter bridges C2's TranscriptSegment queue to C3's Input
// queue by reattaching the samples fanoutSink cached when the chunk was
// captured.
func (o *orchestrator) runDiarizationAdapter(ctx context.Context) {
	for {
		seg, ok := o.transcriptQueue.Pop(ctx)
		if !ok {
			return
		}

		samples, found := o.cache.take(seg.ChunkID)
		if !found {
			o.logger.WithField("chunk_id", seg.ChunkID).
				Warn("No cached samples for transcript segment, diarizing with empty audio")
		}

		input := &diarization.Input{Segment: seg, Samples: samples, SampleRate: o.cfg.SampleRate}
		if err := o.diarizationIn.Push(ctx, input); err != nil {
			o.logger.WithError(err).Warn("Failed to push diarization input")
		}
	}
}

// gracefulDrainDeadline bounds how long stop(force=false) waits for queues
// to empty before cancelling stages outright (spec.md section 4: "stop
// deadline elapses").
const gracefulDrainDeadline = 30 * time.Second

// stop halts capture immediately (no more audio enters the pipeline
// either way) then, for a graceful stop, waits for every queue to drain so
// in-flight audio reaches C5 before cancelling the stages. A forced stop
// cancels immediately, persisting only whatever has already reached C5.
func (o *orchestrator) stop(force bool) {
	o.capture.StopCapture()

	if !force {
		deadline := time.Now().Add(gracefulDrainDeadline)
		for time.Now().Before(deadline) {
			depths := o.queueDepths()
			drained := true
			for _, n := range depths {
				if n > 0 {
					drained = false
					break
				}
			}
			if drained {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
	}

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.audioQueue.Close()
	o.transcriptQueue.Close()
	o.diarizationIn.Close()
	o.diarizedQueue.Close()
	o.vectorQueue.Close()
	o.bus.Stop()
}
