package audio

import (
	"encoding/binary"

	webrtcvad "github.com/baabaaox/go-webrtcvad"
	"github.com/sirupsen/logrus"
)

// VoiceActivityDetector wraps Google's WebRTC VAD, generalized from the
// teacher's hardcoded 48kHz-stereo assumption to whichever of WebRTC VAD's
// four native rates (8000/16000/32000/48000) the session is configured for
// (spec.md section 6's sample_rate field already restricts to that set, so
// no resampling step is needed — only the stereo-to-mono downmix the
// teacher also did).
type VoiceActivityDetector struct {
	vad                   webrtcvad.VadInst
	mode                  int
	sampleRate            int
	frameSize             int // samples per 20ms frame at sampleRate
	speechFramesRequired  int
	silenceFramesRequired int
	speechCount           int
	silenceCount          int
	isSpeaking            bool
	frameBytes            []byte
}

// VADConfig holds VAD aggressiveness and hysteresis tuning.
type VADConfig struct {
	Mode                  int // 0-3, higher is more aggressive
	SpeechFramesRequired  int
	SilenceFramesRequired int
}

// NewVoiceActivityDetector creates a WebRTC VAD with the teacher's defaults
// at the given sample rate (must be 8000, 16000, 32000, or 48000).
func NewVoiceActivityDetector(sampleRate int) *VoiceActivityDetector {
	return NewVoiceActivityDetectorWithConfig(sampleRate, VADConfig{})
}

// NewVoiceActivityDetectorWithConfig creates a WebRTC VAD with custom tuning.
func NewVoiceActivityDetectorWithConfig(sampleRate int, config VADConfig) *VoiceActivityDetector {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		logrus.WithField("sample_rate", sampleRate).Error("Unsupported WebRTC VAD sample rate")
		return nil
	}
	if config.Mode < 0 || config.Mode > 3 {
		config.Mode = 2
	}
	if config.SpeechFramesRequired <= 0 {
		config.SpeechFramesRequired = 3
	}
	if config.SilenceFramesRequired <= 0 {
		config.SilenceFramesRequired = 15
	}

	frameSize := sampleRate / 50 // 20ms

	v := &VoiceActivityDetector{
		vad:                   webrtcvad.Create(),
		mode:                  config.Mode,
		sampleRate:            sampleRate,
		frameSize:             frameSize,
		speechFramesRequired:  config.SpeechFramesRequired,
		silenceFramesRequired: config.SilenceFramesRequired,
		frameBytes:            make([]byte, frameSize*2),
	}

	if err := webrtcvad.Init(v.vad); err != nil {
		logrus.WithError(err).Error("Failed to initialize WebRTC VAD")
		return nil
	}
	if err := webrtcvad.SetMode(v.vad, v.mode); err != nil {
		logrus.WithError(err).Error("Failed to set WebRTC VAD mode")
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"mode":           v.mode,
		"sample_rate":    v.sampleRate,
		"frame_size":     v.frameSize,
		"speech_frames":  v.speechFramesRequired,
		"silence_frames": v.silenceFramesRequired,
	}).Info("WebRTC VAD initialized")

	return v
}

// DetectVoiceActivity processes one 20ms frame of mono int16 samples at the
// detector's configured sample rate.
func (v *VoiceActivityDetector) DetectVoiceActivity(mono []int16) bool {
	if len(mono) < v.frameSize {
		v.updateState(false)
		return v.isSpeaking
	}

	frame := mono[:v.frameSize]
	for i, sample := range frame {
		binary.LittleEndian.PutUint16(v.frameBytes[i*2:], uint16(sample))
	}

	isVoice, err := webrtcvad.Process(v.vad, v.sampleRate, v.frameBytes[:v.frameSize*2], v.frameSize)
	if err != nil {
		logrus.WithError(err).Debug("WebRTC VAD process error")
		v.updateState(false)
		return v.isSpeaking
	}

	v.updateState(isVoice)
	return v.isSpeaking
}

// DetectVoiceActivityInChunk downmixes a possibly multi-channel float32
// [-1,1] chunk to mono int16 and runs DetectVoiceActivity across every
// complete 20ms frame, returning true if any frame found speech. Used by
// Capture.emit to distinguish "quiet" from "silent" beyond the RMS floor.
func (v *VoiceActivityDetector) DetectVoiceActivityInChunk(samples []float32, channels int) bool {
	if channels <= 0 {
		channels = 1
	}
	frames := len(samples) / channels
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		avg := sum / float32(channels)
		mono[i] = int16(avg * 32767)
	}

	speech := false
	for start := 0; start+v.frameSize <= len(mono); start += v.frameSize {
		if v.DetectVoiceActivity(mono[start : start+v.frameSize]) {
			speech = true
		}
	}
	return speech
}

func (v *VoiceActivityDetector) updateState(isVoice bool) {
	if isVoice {
		v.speechCount++
		v.silenceCount = 0
		if !v.isSpeaking && v.speechCount >= v.speechFramesRequired {
			v.isSpeaking = true
		}
	} else {
		v.silenceCount++
		v.speechCount = 0
		if v.isSpeaking && v.silenceCount >= v.silenceFramesRequired {
			v.isSpeaking = false
		}
	}
}

// Reset clears hysteresis counters between sessions.
func (v *VoiceActivityDetector) Reset() {
	v.speechCount = 0
	v.silenceCount = 0
	v.isSpeaking = false
}
