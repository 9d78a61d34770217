// Package course holds the pure course-processing logic: normalization of
// scraped records into canonical form and the vector math used for matching.
package course

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/waiterbildung/course-advisor/internal/domain"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

// DefaultLocale is assumed when neither the record nor the target carries one.
const DefaultLocale = "en"

// Normalize converts a raw scraped record into its canonical form using the
// default topic vocabulary. It is a pure function and idempotent: normalizing
// an already-normalized record changes nothing, so the same course scraped
// twice lands on the same CanonicalID and updates in place.
func Normalize(raw model.RawCourseRecord) (model.CourseRecord, error) {
	return NormalizeWithVocabulary(raw, DefaultVocabulary)
}

// NormalizeWithVocabulary is Normalize with an explicit topic vocabulary.
func NormalizeWithVocabulary(raw model.RawCourseRecord, vocab Vocabulary) (model.CourseRecord, error) {
	title := collapseSpace(raw.Title)
	if title == "" {
		return model.CourseRecord{}, &domain.ValidationError{Field: "title", Reason: "empty after normalization"}
	}

	provider := collapseSpace(raw.Provider)
	if provider == "" {
		return model.CourseRecord{}, &domain.ValidationError{Field: "provider", Reason: "required"}
	}

	locale := normalizeLocale(raw.Locale)
	if locale == "" {
		locale = normalizeLocale(raw.DefaultLocale)
	}
	if locale == "" {
		locale = DefaultLocale
	}

	return model.CourseRecord{
		CanonicalID: CanonicalID(title, provider, locale),
		Title:       title,
		Provider:    provider,
		Locale:      locale,
		Description: collapseSpace(raw.Description),
		URL:         strings.TrimSpace(raw.URL),
		TopicTags:   normalizeTags(raw.Tags, vocab),
	}, nil
}

// CanonicalID derives the stable identity of a course from its normalized
// title, provider and locale. Case differences in the inputs do not produce
// distinct IDs.
func CanonicalID(title, provider, locale string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(title)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(provider)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(locale)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// EmbeddingText is the text a course's embedding is computed from. Keeping
// the composition in one place ties the stored vectors to a single format.
func EmbeddingText(c model.CourseRecord) string {
	parts := []string{c.Title}
	if c.Description != "" {
		parts = append(parts, c.Description)
	}
	if len(c.TopicTags) > 0 {
		parts = append(parts, strings.Join(c.TopicTags, " "))
	}
	return strings.Join(parts, "\n")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func normalizeLocale(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	return s
}

// normalizeTags maps scraped topic strings onto the controlled vocabulary.
// Mentions matching nothing, and records carrying no tags at all, fall back
// to TopicUncategorized so every stored course is filterable.
func normalizeTags(tags []string, vocab Vocabulary) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))

	add := func(tag string) {
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}

	for _, tag := range tags {
		t := strings.ToLower(collapseSpace(tag))
		if t == "" {
			continue
		}
		if topic, ok := vocab.MapTag(t); ok {
			add(topic)
		} else {
			add(TopicUncategorized)
		}
	}
	if len(out) == 0 {
		return []string{TopicUncategorized}
	}
	sort.Strings(out)
	return out
}
