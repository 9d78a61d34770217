package course

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 1, CosineDistance([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, 2, CosineDistance([]float64{1, 0}, []float64{-1, 0}), 1e-9)
}

func TestCosineDistanceDegenerateInputs(t *testing.T) {
	assert.Equal(t, float64(1), CosineDistance(nil, nil))
	assert.Equal(t, float64(1), CosineDistance([]float64{1, 2}, []float64{1}))
	assert.Equal(t, float64(1), CosineDistance([]float64{0, 0}, []float64{1, 1}))
}

func TestRankByDistanceOrdersClosestFirst(t *testing.T) {
	now := time.Now()
	candidates := []model.CourseRecord{
		{CanonicalID: "far", Embedding: []float64{0, 1}, UpdatedAt: now},
		{CanonicalID: "near", Embedding: []float64{1, 0.1}, UpdatedAt: now},
		{CanonicalID: "exact", Embedding: []float64{1, 0}, UpdatedAt: now},
	}

	matches := RankByDistance([]float64{1, 0}, candidates, 0)
	require.Len(t, matches, 3)
	assert.Equal(t, "exact", matches[0].Course.CanonicalID)
	assert.Equal(t, "near", matches[1].Course.CanonicalID)
	assert.Equal(t, "far", matches[2].Course.CanonicalID)
}

func TestRankByDistanceBreaksTiesByRecency(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)
	candidates := []model.CourseRecord{
		{CanonicalID: "old", Embedding: []float64{1, 0}, UpdatedAt: older},
		{CanonicalID: "new", Embedding: []float64{2, 0}, UpdatedAt: newer},
	}

	matches := RankByDistance([]float64{1, 0}, candidates, 0)
	require.Len(t, matches, 2)
	assert.Equal(t, "new", matches[0].Course.CanonicalID)
	assert.Equal(t, "old", matches[1].Course.CanonicalID)

	// Fully tied candidates fall back to canonical id, so either input
	// order produces the same ranking.
	tied := []model.CourseRecord{
		{CanonicalID: "beta", Embedding: []float64{1, 0}, UpdatedAt: newer},
		{CanonicalID: "alpha", Embedding: []float64{2, 0}, UpdatedAt: newer},
	}
	forward := RankByDistance([]float64{1, 0}, tied, 0)
	reversed := RankByDistance([]float64{1, 0}, []model.CourseRecord{tied[1], tied[0]}, 0)
	require.Len(t, forward, 2)
	require.Len(t, reversed, 2)
	assert.Equal(t, "alpha", forward[0].Course.CanonicalID)
	assert.Equal(t, "alpha", reversed[0].Course.CanonicalID)
	assert.Equal(t, "beta", forward[1].Course.CanonicalID)
	assert.Equal(t, "beta", reversed[1].Course.CanonicalID)
}

func TestRankByDistanceSkipsUnembeddedAndLimits(t *testing.T) {
	candidates := []model.CourseRecord{
		{CanonicalID: "a", Embedding: []float64{1, 0}},
		{CanonicalID: "unembedded"},
		{CanonicalID: "b", Embedding: []float64{0.9, 0.1}},
		{CanonicalID: "c", Embedding: []float64{0, 1}},
	}

	matches := RankByDistance([]float64{1, 0}, candidates, 2)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Course.CanonicalID)
	assert.Equal(t, "b", matches[1].Course.CanonicalID)
}
