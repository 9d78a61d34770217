package course

import (
	"math"
	"sort"

	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

// CosineDistance returns 1 minus the cosine similarity of a and b, so
// identical directions score 0 and orthogonal vectors score 1. Mismatched
// dimensions and zero vectors yield the maximum distance.
func CosineDistance(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp floating point drift so distances stay in [0, 2].
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return 1 - sim
}

// RankByDistance orders candidates by cosine distance to query, closest
// first. Equal distances are broken by the more recently updated course,
// then by canonical id, so the order is deterministic regardless of input
// order. At most limit results are returned; a limit of 0 or less means
// no cap.
func RankByDistance(query []float64, candidates []model.CourseRecord, limit int) []model.CourseMatch {
	matches := make([]model.CourseMatch, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		matches = append(matches, model.CourseMatch{
			Course:   c,
			Distance: CosineDistance(query, c.Embedding),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		if !matches[i].Course.UpdatedAt.Equal(matches[j].Course.UpdatedAt) {
			return matches[i].Course.UpdatedAt.After(matches[j].Course.UpdatedAt)
		}
		return matches[i].Course.CanonicalID < matches[j].Course.CanonicalID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
