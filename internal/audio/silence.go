package audio

import "math"

// SilenceDetector flags chunks whose RMS energy falls below a floor, so C2
// can skip remote transcription calls on them (spec.md section 4.1) while
// still emitting them for dense sequencing. Adapted from the teacher's
// IntelligentVAD energy tracking, simplified to the single floor-crossing
// test the capture stage needs; the teacher's sentence/pause heuristics are
// not carried over (internal/transcription's coalescing looks only at the
// chunk's Silent flag).
type SilenceDetector struct {
	floor          float64
	energyHistory  []float64
	maxHistorySize int
}

// NewSilenceDetector creates a detector with the given RMS floor.
func NewSilenceDetector(floor float64) *SilenceDetector {
	if floor <= 0 {
		floor = 75.0
	}
	return &SilenceDetector{
		floor:          floor,
		energyHistory:  make([]float64, 0, 64),
		maxHistorySize: 64,
	}
}

// IsSilent reports whether a float32 [-1,1] sample slice is below the floor.
func (d *SilenceDetector) IsSilent(samples []float32) bool {
	if len(samples) == 0 {
		return true
	}

	var sum float64
	for _, s := range samples {
		v := float64(s) * 32768.0 // match the teacher's int16-scale energy units
		sum += v * v
	}
	energy := math.Sqrt(sum / float64(len(samples)))

	d.energyHistory = append(d.energyHistory, energy)
	if len(d.energyHistory) > d.maxHistorySize {
		d.energyHistory = d.energyHistory[1:]
	}

	return energy < d.floor
}

// AverageEnergy returns the rolling mean RMS energy, for diagnostics.
func (d *SilenceDetector) AverageEnergy() float64 {
	if len(d.energyHistory) == 0 {
		return 0
	}
	var sum float64
	for _, e := range d.energyHistory {
		sum += e
	}
	return sum / float64(len(d.energyHistory))
}
