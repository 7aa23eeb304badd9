package diarization

import "math"

// centroid is one speaker profile's running feature average, updated as an
// exponentially-weighted moving average on every attribution (spec.md
// section 4.3, decay 0.9).
type centroid struct {
	f0Mean           float64
	energyMean       float64
	spectralCentroid float64
	mfcc             []float64
	utteranceCount   int64
}

const centroidDecay = 0.9

func newCentroid(v Vector) *centroid {
	mfcc := make([]float64, len(v.MFCC))
	copy(mfcc, v.MFCC)
	return &centroid{
		f0Mean:           v.F0Mean,
		energyMean:       v.EnergyMean,
		spectralCentroid: v.SpectralCentroid,
		mfcc:             mfcc,
		utteranceCount:   1,
	}
}

// update blends v into the centroid via EWMA with the configured decay.
func (c *centroid) update(v Vector) {
	c.f0Mean = centroidDecay*c.f0Mean + (1-centroidDecay)*v.F0Mean
	c.energyMean = centroidDecay*c.energyMean + (1-centroidDecay)*v.EnergyMean
	c.spectralCentroid = centroidDecay*c.spectralCentroid + (1-centroidDecay)*v.SpectralCentroid
	for i := range c.mfcc {
		if i < len(v.MFCC) {
			c.mfcc[i] = centroidDecay*c.mfcc[i] + (1-centroidDecay)*v.MFCC[i]
		}
	}
	c.utteranceCount++
}

// blend merges other into c, weighting by each side's utterance count
// (spec.md section 4.3 Merging: "blends centroids weighted by utterance
// counts").
func (c *centroid) blend(other *centroid) {
	total := float64(c.utteranceCount + other.utteranceCount)
	if total == 0 {
		return
	}
	wc := float64(c.utteranceCount) / total
	wo := float64(other.utteranceCount) / total

	c.f0Mean = wc*c.f0Mean + wo*other.f0Mean
	c.energyMean = wc*c.energyMean + wo*other.energyMean
	c.spectralCentroid = wc*c.spectralCentroid + wo*other.spectralCentroid
	for i := range c.mfcc {
		if i < len(other.mfcc) {
			c.mfcc[i] = wc*c.mfcc[i] + wo*other.mfcc[i]
		}
	}
	c.utteranceCount += other.utteranceCount
}

// similarity computes cosine similarity over MFCC combined with a weighted
// Gaussian kernel on pitch (spec.md section 4.3, step 1).
func similarity(c *centroid, v Vector) float64 {
	cosine := cosineSimilarity(c.mfcc, v.MFCC)
	pitchKernel := gaussianKernel(c.f0Mean, v.F0Mean, 40.0) // 40Hz bandwidth
	return 0.7*cosine + 0.3*pitchKernel
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func gaussianKernel(a, b, bandwidth float64) float64 {
	if bandwidth == 0 {
		return 0
	}
	d := a - b
	return math.Exp(-(d * d) / (2 * bandwidth * bandwidth))
}
