package course

import (
	"sort"
	"strings"
)

// TopicUncategorized is the tag assigned when a scraped topic matches nothing
// in the vocabulary, and the only tag of a record that arrived with none.
const TopicUncategorized = "uncategorized"

// Vocabulary is the controlled topic tag set. Keys are the canonical tags
// courses are stored and matched under; values list alias terms that map onto
// the tag. It is configuration data: deployments can swap the table without
// touching the normalizer.
type Vocabulary map[string][]string

// DefaultVocabulary covers the domains the seeded course catalogs advertise.
var DefaultVocabulary = Vocabulary{
	"business":           {"management", "marketing", "finance", "accounting", "economics", "entrepreneurship"},
	"cybersecurity":      {"security", "infosec", "cybersec", "hacking", "pentesting", "cryptography"},
	"data engineering":   {"etl", "pipelines", "spark", "warehousing", "databases"},
	"data science":       {"data", "statistics", "analytics", "ml", "ai", "machine learning"},
	"design":             {"ux", "ui", "typography", "illustration"},
	"healthcare":         {"nursing", "medicine", "health", "care"},
	"languages":          {"english", "german", "french", "spanish", "language"},
	"programming":        {"python", "go", "golang", "java", "javascript", "coding", "software", "development"},
	"project management": {"agile", "scrum", "kanban", "pmp", "leadership"},
}

// MapTag resolves one free-text topic mention to a vocabulary tag. A mention
// that equals a tag or one of its aliases wins outright; otherwise the tag
// sharing the most normalized tokens with the mention wins, lexicographically
// first on a tie. The bool is false when nothing overlaps.
func (v Vocabulary) MapTag(raw string) (string, bool) {
	mention := strings.ToLower(collapseSpace(raw))
	if mention == "" {
		return "", false
	}

	topics := make([]string, 0, len(v))
	for topic := range v {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	for _, topic := range topics {
		if mention == topic {
			return topic, true
		}
		for _, alias := range v[topic] {
			if mention == alias {
				return topic, true
			}
		}
	}

	mentionTokens := tokenSet(mention)
	best, bestScore := "", 0
	for _, topic := range topics {
		if score := v.tokenOverlap(topic, mentionTokens); score > bestScore {
			best, bestScore = topic, score
		}
	}
	if bestScore == 0 {
		return "", false
	}
	return best, true
}

func (v Vocabulary) tokenOverlap(topic string, mention map[string]struct{}) int {
	score := 0
	for _, token := range tagTokens(topic) {
		if _, ok := mention[token]; ok {
			score++
		}
	}
	for _, alias := range v[topic] {
		for _, token := range tagTokens(alias) {
			if _, ok := mention[token]; ok {
				score++
			}
		}
	}
	return score
}

func tagTokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

func tokenSet(s string) map[string]struct{} {
	tokens := tagTokens(s)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
