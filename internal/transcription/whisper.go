package transcription

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// WhisperProvider shells out to whisper.cpp, generalized from the teacher's
// WhisperTranscriber: instead of converting 48kHz stereo Discord PCM via
// ffmpeg, it accepts the session's already-resampled float32 samples and
// encodes them to a WAV container directly (no external resample step
// needed since C1 already normalizes to the configured rate).
type WhisperProvider struct {
	modelPath   string
	whisperPath string
	language    string
	threads     string
	beamSize    string
}

// NewWhisperProvider validates the whisper.cpp binary and model file are
// present, same preflight the teacher performs at construction time.
func NewWhisperProvider(modelPath string) (*WhisperProvider, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper model file not accessible: %w", err)
	}

	whisperPath, err := exec.LookPath("whisper")
	if err != nil {
		return nil, fmt.Errorf("whisper executable not found in PATH: %w", err)
	}

	language := os.Getenv("WHISPER_LANGUAGE")
	if language == "" {
		language = "auto"
	}
	threads := os.Getenv("WHISPER_THREADS")
	if threads == "" {
		threads = strconv.Itoa(runtime.NumCPU())
	}
	beamSize := os.Getenv("WHISPER_BEAM_SIZE")
	if beamSize == "" {
		beamSize = "1"
	}

	logrus.WithFields(logrus.Fields{
		"whisper": whisperPath,
		"model":   modelPath,
		"language": language,
	}).Info("Whisper transcription provider initialized")

	return &WhisperProvider{
		modelPath:   modelPath,
		whisperPath: whisperPath,
		language:    language,
		threads:     threads,
		beamSize:    beamSize,
	}, nil
}

func (w *WhisperProvider) Name() string { return "whisper" }

func (w *WhisperProvider) Ready() bool {
	_, err := os.Stat(w.modelPath)
	return err == nil
}

func (w *WhisperProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error) {
	wav := encodeWAV(samples, sampleRate)

	language := w.language
	if opts.Language != "" && opts.Language != "auto" {
		language = opts.Language
	}

	args := []string{
		"-m", w.modelPath,
		"-l", language,
		"-t", w.threads,
		"-bs", w.beamSize,
		"--no-timestamps",
		"-otxt",
	}
	if prompt := strings.TrimSpace(opts.PreviousContext); prompt != "" {
		args = append(args, "--prompt", prompt)
	}
	args = append(args, "-")

	// #nosec G204 - whisperPath resolved via exec.LookPath at construction, args are fixed flags plus validated config
	cmd := exec.CommandContext(ctx, w.whisperPath, args...)
	cmd.Stdin = bytes.NewReader(wav)

	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w: %s", err, errOut.String())
	}

	text := strings.TrimSpace(out.String())
	return &Result{Text: text, Confidence: 0.95, Language: language}, nil
}

func (w *WhisperProvider) Close() error { return nil }

// encodeWAV writes a minimal 16-bit PCM WAV container for samples in
// [-1, 1], the format whisper.cpp expects on stdin.
func encodeWAV(samples []float32, sampleRate int) []byte {
	var buf bytes.Buffer

	dataSize := len(samples) * 2
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	for _, s := range samples {
		v := int16(math.Max(-32768, math.Min(32767, float64(s)*32767)))
		binary.Write(&buf, binary.LittleEndian, v)
	}

	return buf.Bytes()
}
