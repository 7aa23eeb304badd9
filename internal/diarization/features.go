package diarization

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

const mfccDimension = 13

var (
	errShortSegment   = errors.New("segment shorter than one analysis frame")
	errNoVoicedFrames = errors.New("no voiced frames found in segment")
)

// Vector is the fixed-length feature vector extracted per segment (spec.md
// section 4.3): F0 mean/std, short-time energy mean, spectral centroid, and
// an MFCC vector. Grounded on askidmobile-AIWisper's mel_spectrogram.go FFT
// + mel-filterbank pipeline (gonum.org/v1/gonum/dsp/fourier), generalized
// from "log-mel spectrogram frames for an ASR encoder" to "one summary
// vector per segment for speaker clustering".
type Vector struct {
	F0Mean             float64
	F0StdDev           float64
	EnergyMean         float64
	SpectralCentroid   float64
	MFCC               []float64
}

// Extractor computes Vectors from voiced frames of segment audio.
type Extractor struct {
	sampleRate int
	frameSize  int
	hopSize    int
	fft        *fourier.FFT
	melFilters [][]float64
}

// NewExtractor builds a feature extractor for the given sample rate, using
// a 25ms frame rounded up to the next power of two in samples (512 samples,
// 32ms, at 16kHz) and a 10ms hop.
func NewExtractor(sampleRate int) *Extractor {
	frameSize := nextPowerOfTwo(sampleRate / 40)
	hopSize := sampleRate / 100

	return &Extractor{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		hopSize:    hopSize,
		fft:        fourier.NewFFT(frameSize),
		melFilters: melFilterbank(frameSize, 26, sampleRate),
	}
}

// Extract computes a feature Vector over samples, skipping silent frames so
// the clustering decision (section 4.3) reflects only voiced speech.
func (e *Extractor) Extract(samples []float32) (Vector, error) {
	if len(samples) < e.frameSize {
		return Vector{}, errShortSegment
	}

	var f0s, energies []float64
	var centroids []float64
	mfccSum := make([]float64, mfccDimension)
	mfccFrames := 0

	for start := 0; start+e.frameSize <= len(samples); start += e.hopSize {
		frame := samples[start : start+e.frameSize]

		energy := rmsEnergy(frame)
		if energy < 1e-4 {
			continue // skip unvoiced/silent frames
		}
		energies = append(energies, energy)

		if f0, ok := estimateF0(frame, e.sampleRate); ok {
			f0s = append(f0s, f0)
		}

		power := e.powerSpectrum(frame)
		centroids = append(centroids, spectralCentroid(power, e.sampleRate))

		mfcc := e.mfcc(power)
		for i := range mfccSum {
			mfccSum[i] += mfcc[i]
		}
		mfccFrames++
	}

	if len(energies) == 0 || mfccFrames == 0 {
		return Vector{}, errNoVoicedFrames
	}

	mfcc := make([]float64, mfccDimension)
	for i := range mfcc {
		mfcc[i] = mfccSum[i] / float64(mfccFrames)
	}

	f0Mean, f0Std := meanStd(f0s)

	return Vector{
		F0Mean:           f0Mean,
		F0StdDev:         f0Std,
		EnergyMean:       floats.Sum(energies) / float64(len(energies)),
		SpectralCentroid: floats.Sum(centroids) / float64(len(centroids)),
		MFCC:             mfcc,
	}, nil
}

func (e *Extractor) powerSpectrum(frame []float32) []float64 {
	data := make([]float64, e.frameSize)
	for i, s := range frame {
		window := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(e.frameSize-1)))
		data[i] = float64(s) * window
	}
	coeffs := e.fft.Coefficients(nil, data)

	power := make([]float64, e.frameSize/2+1)
	for i := range power {
		re, im := real(coeffs[i]), imag(coeffs[i])
		power[i] = re*re + im*im
	}
	return power
}

func (e *Extractor) mfcc(power []float64) []float64 {
	melEnergies := make([]float64, len(e.melFilters))
	for m, filter := range e.melFilters {
		var sum float64
		for k, v := range filter {
			sum += power[k] * v
		}
		if sum < 1e-10 {
			sum = 1e-10
		}
		melEnergies[m] = math.Log(sum)
	}

	out := make([]float64, mfccDimension)
	n := len(melEnergies)
	for i := 0; i < mfccDimension; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			sum += melEnergies[j] * math.Cos(math.Pi*float64(i)*(float64(j)+0.5)/float64(n))
		}
		out[i] = sum
	}
	return out
}

func rmsEnergy(frame []float32) float64 {
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// estimateF0 picks the lag with the largest raw (unnormalized)
// autocorrelation over the speech pitch range (80-400Hz), a standard
// lightweight pitch estimator.
func estimateF0(frame []float32, sampleRate int) (float64, bool) {
	minLag := sampleRate / 400
	maxLag := sampleRate / 80
	if maxLag >= len(frame) {
		return 0, false
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := 0; i < len(frame)-lag; i++ {
			corr += float64(frame[i]) * float64(frame[i+lag])
		}
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestLag == 0 {
		return 0, false
	}
	return float64(sampleRate) / float64(bestLag), true
}

func spectralCentroid(power []float64, sampleRate int) float64 {
	var weighted, total float64
	for i, p := range power {
		freq := float64(i) * float64(sampleRate) / float64(2*(len(power)-1))
		weighted += freq * p
		total += p
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

func meanStd(vals []float64) (mean, std float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	mean = floats.Sum(vals) / float64(len(vals))
	var variance float64
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))
	return mean, math.Sqrt(variance)
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func melFilterbank(nFFT, nMels, sampleRate int) [][]float64 {
	hzToMel := func(hz float64) float64 { return 2595.0 * math.Log10(1.0+hz/700.0) }
	melToHz := func(mel float64) float64 { return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0) }

	numBins := nFFT/2 + 1
	fMax := float64(sampleRate) / 2.0

	allFreqs := make([]float64, numBins)
	for i := range allFreqs {
		allFreqs[i] = float64(i) * fMax / float64(numBins-1)
	}

	mMin, mMax := hzToMel(0), hzToMel(fMax)
	fPts := make([]float64, nMels+2)
	for i := range fPts {
		fPts[i] = melToHz(mMin + float64(i)*(mMax-mMin)/float64(nMels+1))
	}

	fDiff := make([]float64, nMels+1)
	for i := range fDiff {
		fDiff[i] = fPts[i+1] - fPts[i]
	}

	filters := make([][]float64, nMels)
	for m := range filters {
		filters[m] = make([]float64, numBins)
		for k := 0; k < numBins; k++ {
			freq := allFreqs[k]
			lower := (freq - fPts[m]) / fDiff[m]
			upper := (fPts[m+2] - freq) / fDiff[m+1]
			val := math.Min(lower, upper)
			if val < 0 {
				val = 0
			}
			filters[m][k] = val
		}
	}
	return filters
}
