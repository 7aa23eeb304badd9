package diarization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vecWithPitch(f0 float64, mfccSeed float64) Vector {
	mfcc := make([]float64, mfccDimension)
	for i := range mfcc {
		mfcc[i] = mfccSeed + float64(i)*0.01
	}
	return Vector{F0Mean: f0, EnergyMean: 0.1, SpectralCentroid: 1000, MFCC: mfcc}
}

func TestAttributeFirstSegmentAlwaysSpeakerChange(t *testing.T) {
	r := NewRegistry(0.8)
	id, _, change := r.Attribute(vecWithPitch(120, 1.0))
	assert.True(t, change)
	assert.Equal(t, "speaker_0", id)
}

func TestAttributeSimilarVoiceMatchesExistingProfile(t *testing.T) {
	r := NewRegistry(0.8)
	id1, _, _ := r.Attribute(vecWithPitch(120, 1.0))
	id2, _, change := r.Attribute(vecWithPitch(121, 1.001))

	assert.Equal(t, id1, id2)
	assert.False(t, change)
}

func TestAttributeDissimilarVoiceAllocatesNewProfile(t *testing.T) {
	r := NewRegistry(0.8)
	id1, _, _ := r.Attribute(vecWithPitch(100, 0.0))
	id2, _, change := r.Attribute(vecWithPitch(300, 50.0))

	assert.NotEqual(t, id1, id2)
	assert.True(t, change)
}

func TestMergeFoldsStatsAndCreatesAlias(t *testing.T) {
	r := NewRegistry(0.8)
	idA, _, _ := r.Attribute(vecWithPitch(100, 0.0))
	idB, _, _ := r.Attribute(vecWithPitch(300, 50.0))

	require.NoError(t, r.Merge(idB, idA))

	assert.Equal(t, idA, r.Resolve(idB))

	profiles := r.Profiles()
	require.Len(t, profiles, 1)
	assert.Equal(t, int64(2), profiles[0].UtteranceCount)
}

func TestMergeIsIdempotent(t *testing.T) {
	r := NewRegistry(0.8)
	idA, _, _ := r.Attribute(vecWithPitch(100, 0.0))
	idB, _, _ := r.Attribute(vecWithPitch(300, 50.0))

	require.NoError(t, r.Merge(idB, idA))
	require.NoError(t, r.Merge(idB, idA))

	assert.Len(t, r.Profiles(), 1)
}

func TestResolveConvergesInTwoLookupsAfterChainedMerge(t *testing.T) {
	r := NewRegistry(0.8)
	idA, _, _ := r.Attribute(vecWithPitch(100, 0.0))
	idB, _, _ := r.Attribute(vecWithPitch(300, 50.0))
	idC, _, _ := r.Attribute(vecWithPitch(500, 100.0))

	require.NoError(t, r.Merge(idB, idA))
	require.NoError(t, r.Merge(idC, idB))

	assert.Equal(t, idA, r.Resolve(idC))
	// second lookup should be O(1) direct, verifying the rewrite-on-read invariant
	assert.Equal(t, idA, r.Resolve(idC))
}

func TestAttributeUnknownUsesSentinel(t *testing.T) {
	r := NewRegistry(0.8)
	id, change := r.AttributeUnknown()
	assert.Equal(t, SentinelUnknownSpeaker, id)
	assert.True(t, change)
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := []float64{1, 2, 3}
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
}

func TestGaussianKernelDecaysWithDistance(t *testing.T) {
	near := gaussianKernel(100, 105, 40)
	far := gaussianKernel(100, 300, 40)
	assert.Greater(t, near, far)
	assert.True(t, near <= 1.0 && near > 0)
	assert.False(t, math.IsNaN(far))
}
