package audio

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	pipelineerrors "github.com/fankserver/meetcap/internal/errors"
)

// CaptureConfig mirrors the audio_* fields of the session config (spec.md
// section 6): chunk_duration, overlap, sample_rate, channels.
type CaptureConfig struct {
	ChunkDuration time.Duration
	Overlap       time.Duration
	SampleRate    int
	Channels      int
	SilenceFloor  float64

	// MaxBufferSeconds bounds the in-memory ring buffer; samples captured
	// beyond this cap before the emission loop can drain them are dropped
	// as a buffer overflow (spec.md section 4.1).
	MaxBufferSeconds float64
}

// Sink receives emitted chunks. The pipeline's bounded queue implements
// this (internal/pipeline.Queue[*audio.Chunk]); capture never blocks on it
// directly per spec.md section 5 — Push is expected to apply the
// drop-oldest backpressure policy itself.
type Sink interface {
	Push(chunk *Chunk) (dropped bool)
}

// Capture owns the malgo device and the ring buffer that turns raw frames
// into fixed-duration, overlapped chunks. Grounded on
// askidmobile-AIWisper's backend/audio/capture.go malgo wiring
// (DefaultDeviceConfig, FormatF32, DeviceCallbacks.Data), generalized from
// a dual mic+system capture to the single session-scoped microphone stream
// this spec calls for.
type Capture struct {
	cfg     CaptureConfig
	ctx     *malgo.AllocatedContext
	dev     *malgo.Device
	sink    Sink
	silence *SilenceDetector
	voice   *VoiceActivityDetector

	mu       sync.Mutex
	buf      []float32
	overflow bool // set when the ring buffer exceeded its cap since last emission

	sequence uint64
	started  time.Time

	logger *logrus.Entry
}

// NewCapture creates a capture stage. The device is not opened until Start.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	if cfg.ChunkDuration <= cfg.Overlap {
		return nil, pipelineerrors.Configuration("chunk duration must exceed overlap", nil)
	}
	if cfg.MaxBufferSeconds <= 0 {
		cfg.MaxBufferSeconds = 30
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, pipelineerrors.AudioCapture(false, "initializing audio context", err)
	}

	return &Capture{
		cfg:     cfg,
		ctx:     ctx,
		silence: NewSilenceDetector(cfg.SilenceFloor),
		voice:   NewVoiceActivityDetector(cfg.SampleRate),
		logger:  logrus.WithField("component", "audio_capture"),
	}, nil
}

// Start opens the microphone device and begins emitting chunks to sink.
// Chunks continue until ctx is cancelled or the device errors.
func (c *Capture) Start(ctx context.Context, sink Sink) error {
	c.sink = sink
	c.started = time.Now()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(c.cfg.Channels)
	deviceConfig.SampleRate = uint32(c.cfg.SampleRate)

	onRecvFrames := func(_ []byte, pInputSamples []byte, frameCount uint32) {
		sampleCount := int(frameCount) * c.cfg.Channels
		if len(pInputSamples) != sampleCount*4 {
			return
		}
		samples := make([]float32, sampleCount)
		for i := 0; i < sampleCount; i++ {
			idx := i * 4
			bits := uint32(pInputSamples[idx]) | uint32(pInputSamples[idx+1])<<8 |
				uint32(pInputSamples[idx+2])<<16 | uint32(pInputSamples[idx+3])<<24
			samples[i] = math.Float32frombits(bits)
		}
		c.appendSamples(samples)
	}

	dev, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return pipelineerrors.AudioCapture(false, "initializing capture device", err)
	}
	c.dev = dev

	if err := c.dev.Start(); err != nil {
		return pipelineerrors.AudioCapture(false, "starting capture device", err)
	}
	c.logger.WithFields(logrus.Fields{
		"sample_rate": c.cfg.SampleRate,
		"channels":    c.cfg.Channels,
	}).Info("Audio capture started")

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return nil
		case <-ticker.C:
			c.drainEmittableChunks()
		}
	}
}

// appendSamples is called from the malgo callback goroutine; it only
// touches the shared buffer under lock, matching the device-disappearance
// / overrun handling spec.md section 4.1 describes.
func (c *Capture) appendSamples(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = append(c.buf, samples...)

	maxSamples := int(c.cfg.MaxBufferSeconds * float64(c.cfg.SampleRate) * float64(c.cfg.Channels))
	if len(c.buf) > maxSamples {
		drop := len(c.buf) - maxSamples
		c.buf = c.buf[drop:]
		c.overflow = true
	}
}

// drainEmittableChunks builds as many chunks as the accumulated buffer
// allows, sliding forward by (chunkDuration - overlap) each time so that
// start(i+1) = start(i) + duration - overlap holds exactly.
func (c *Capture) drainEmittableChunks() {
	chunkSamples := int(c.cfg.ChunkDuration.Seconds() * float64(c.cfg.SampleRate) * float64(c.cfg.Channels))
	stepSamples := int((c.cfg.ChunkDuration - c.cfg.Overlap).Seconds() * float64(c.cfg.SampleRate) * float64(c.cfg.Channels))
	if stepSamples <= 0 {
		stepSamples = 1
	}

	for {
		c.mu.Lock()
		if len(c.buf) < chunkSamples {
			c.mu.Unlock()
			return
		}
		window := make([]float32, chunkSamples)
		copy(window, c.buf[:chunkSamples])
		discontinuity := c.overflow
		c.overflow = false
		c.buf = c.buf[stepSamples:]
		c.mu.Unlock()

		c.emit(window, discontinuity)
	}
}

func (c *Capture) emit(samples []float32, discontinuity bool) {
	step := c.cfg.ChunkDuration - c.cfg.Overlap
	startTime := c.started.Add(time.Duration(c.sequence) * step)

	// A chunk is only Silent when the cheap RMS floor check agrees with
	// WebRTC VAD's frame-level speech detection; the RMS floor alone flags
	// low-volume speech as silent, and the VAD alone is fooled by steady
	// non-speech noise above the floor.
	belowFloor := c.silence.IsSilent(samples)
	speechDetected := c.voice != nil && c.voice.DetectVoiceActivityInChunk(samples, c.cfg.Channels)

	chunk := &Chunk{
		ID:            uuid.New().String(),
		Sequence:      c.sequence,
		StartTime:     startTime,
		Duration:      c.cfg.ChunkDuration,
		SampleRate:    c.cfg.SampleRate,
		Channels:      c.cfg.Channels,
		Samples:       samples,
		Silent:        belowFloor && !speechDetected,
		Discontinuity: discontinuity,
	}
	c.sequence++

	if c.sink != nil {
		if dropped := c.sink.Push(chunk); dropped {
			c.logger.WithField("sequence", chunk.Sequence).Warn("Audio queue full, chunk dropped (pipeline_overload)")
		}
	}
}

// Stop releases the device. Safe to call multiple times.
func (c *Capture) Stop() {
	if c.dev != nil {
		c.dev.Uninit()
		c.dev = nil
		c.logger.Info("Audio capture stopped")
	}
}

// Close releases the malgo context. Call once the capture is permanently
// done (session teardown).
func (c *Capture) Close() {
	c.Stop()
	if c.ctx != nil {
		c.ctx.Uninit()
		c.ctx.Free()
	}
}
