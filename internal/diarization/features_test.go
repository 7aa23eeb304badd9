package diarization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineWave(freq float64, sampleRate, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestExtractReturnsPlausibleVectorForVoicedTone(t *testing.T) {
	sampleRate := 16000
	samples := sineWave(150, sampleRate, sampleRate) // 1s of a 150Hz tone

	e := NewExtractor(sampleRate)
	v, err := e.Extract(samples)
	require.NoError(t, err)

	assert.InDelta(t, 150, v.F0Mean, 20)
	assert.Greater(t, v.EnergyMean, 0.0)
	assert.Len(t, v.MFCC, mfccDimension)
}

func TestExtractErrorsOnSegmentShorterThanOneFrame(t *testing.T) {
	e := NewExtractor(16000)
	_, err := e.Extract(make([]float32, 10))
	assert.ErrorIs(t, err, errShortSegment)
}

func TestExtractErrorsOnSilence(t *testing.T) {
	e := NewExtractor(16000)
	_, err := e.Extract(make([]float32, 16000))
	assert.ErrorIs(t, err, errNoVoicedFrames)
}
