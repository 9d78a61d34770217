package conversation

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

// ErrUnrecognized means a message could not be interpreted as an answer to
// the current question. The session stays put and the question is re-asked.
var ErrUnrecognized = errors.New("answer not recognized")

// Question identifiers recorded on accepted answers.
const (
	QuestionEducation  = "education"
	QuestionEmployment = "employment"
	QuestionDirection  = "direction"
	QuestionInterests  = "interests"
)

// Direction values.
const (
	DirectionDeepen = "deepen"
	DirectionOpen   = "open"
)

// Extract interprets a free-text message as an answer to the question asked
// in the given state. It is pure; AnsweredAt is stamped by the caller.
func Extract(state model.SessionState, message string) (model.Answer, error) {
	switch state {
	case model.StateEducation:
		return extractEducation(message)
	case model.StateEmployment:
		return extractEmployment(message)
	case model.StateDirection:
		return extractDirection(message)
	case model.StateInterest:
		return extractInterests(message)
	default:
		return model.Answer{}, ErrUnrecognized
	}
}

var educationLevels = []struct {
	level    string
	keywords []string
}{
	{"Doctorate", []string{"phd", "ph.d", "doctor", "doctorate", "promotion"}},
	{"Master's degree", []string{"master", "msc", "m.sc", "magister", "diplom "}},
	{"Bachelor's degree", []string{"bachelor", "bsc", "b.sc", "undergraduate degree"}},
	{"Apprenticeship", []string{"apprentice", "ausbildung", "vocational"}},
	{"High school", []string{"high school", "highschool", "abitur", "secondary school", "a-levels"}},
	{"None", []string{"no degree", "none", "nothing", "no formal"}},
}

func extractEducation(message string) (model.Answer, error) {
	lower := strings.ToLower(message)
	for _, candidate := range educationLevels {
		for _, kw := range candidate.keywords {
			if strings.Contains(lower, kw) {
				return model.Answer{
					QuestionID: QuestionEducation,
					Raw:        message,
					Value:      candidate.level,
				}, nil
			}
		}
	}
	return model.Answer{}, ErrUnrecognized
}

var (
	negativeEmployment = regexp.MustCompile(`\b(no|not employed|unemployed|between jobs|looking for work|student)\b`)
	positiveEmployment = regexp.MustCompile(`\b(yes|yeah|yep|employed|working|i work)\b`)
	professionLeadIn   = regexp.MustCompile(`\b(?:as an?|profession:?)\s+(.+?)(?:\s+(?:in|at)\s+(.+))?$`)
	industryLeadIn     = regexp.MustCompile(`\b(?:in|at|industry:?)\s+(.+)$`)
)

func extractEmployment(message string) (model.Answer, error) {
	lower := strings.ToLower(strings.TrimSpace(message))

	if negativeEmployment.MatchString(lower) && !positiveEmployment.MatchString(lower) {
		return model.Answer{
			QuestionID: QuestionEmployment,
			Raw:        message,
			Value:      "unemployed",
		}, nil
	}

	if !positiveEmployment.MatchString(lower) {
		return model.Answer{}, ErrUnrecognized
	}

	answer := model.Answer{
		QuestionID: QuestionEmployment,
		Raw:        message,
		Value:      "employed",
	}

	attrs := make(map[string]string, 2)
	// The profession clause is cut out before the industry pass so "as a
	// nurse" is never mistaken for an industry mention. "as a nurse in
	// healthcare" yields both.
	if m := professionLeadIn.FindStringSubmatch(lower); m != nil {
		if profession := strings.Trim(m[1], " .!?"); profession != "" {
			attrs["profession"] = profession
		}
		if industry := strings.Trim(m[2], " .!?"); industry != "" {
			attrs["industry"] = industry
		}
		lower = strings.TrimSpace(strings.Replace(lower, m[0], "", 1))
	}
	if _, ok := attrs["industry"]; !ok {
		if industry := extractIndustry(lower); industry != "" {
			attrs["industry"] = industry
		}
	}
	if len(attrs) > 0 {
		answer.Attributes = attrs
	}
	return answer, nil
}

// extractIndustry pulls the industry mention out of an affirmative
// employment answer, e.g. "Yes, finance" or "I work in healthcare".
func extractIndustry(lower string) string {
	if m := industryLeadIn.FindStringSubmatch(lower); m != nil {
		return strings.Trim(m[1], " .!?")
	}
	// "Yes, finance" style: whatever follows the affirmation.
	if loc := positiveEmployment.FindStringIndex(lower); loc != nil {
		rest := strings.Trim(lower[loc[1]:], " ,.!?-")
		rest = strings.TrimPrefix(rest, "i am ")
		rest = strings.TrimPrefix(rest, "i'm ")
		if rest != "" && !positiveEmployment.MatchString(rest) {
			return rest
		}
	}
	return ""
}

var (
	deepenCues = []string{"deepen", "advance", "specialize", "specialise", "current field", "same field", "stay", "go deeper"}
	openCues   = []string{"new area", "new field", "open", "switch", "change", "different", "something else", "explore"}
)

func extractDirection(message string) (model.Answer, error) {
	lower := strings.ToLower(message)
	answer := model.Answer{QuestionID: QuestionDirection, Raw: message}

	for _, cue := range deepenCues {
		if strings.Contains(lower, cue) {
			answer.Value = DirectionDeepen
			return answer, nil
		}
	}
	for _, cue := range openCues {
		if strings.Contains(lower, cue) {
			answer.Value = DirectionOpen
			return answer, nil
		}
	}
	return model.Answer{}, ErrUnrecognized
}

var interestSplit = regexp.MustCompile(`\s*(?:,|;|\band\b|\n)\s*`)

func extractInterests(message string) (model.Answer, error) {
	parts := interestSplit.Split(strings.ToLower(message), -1)
	interests := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		topic := strings.Trim(p, " .!?-")
		if topic == "" {
			continue
		}
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		interests = append(interests, topic)
	}
	if len(interests) == 0 {
		return model.Answer{}, ErrUnrecognized
	}

	return model.Answer{
		QuestionID: QuestionInterests,
		Raw:        message,
		Value:      strings.Join(interests, ", "),
		Attributes: map[string]string{"topics": strings.Join(interests, ",")},
	}, nil
}

// BuildProfile derives the user profile from a full answer set. It returns
// false until every question has an accepted answer.
func BuildProfile(answers []model.Answer) (model.UserProfile, bool) {
	byQuestion := make(map[string]model.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	for _, q := range []string{QuestionEducation, QuestionEmployment, QuestionDirection, QuestionInterests} {
		if _, ok := byQuestion[q]; !ok {
			return model.UserProfile{}, false
		}
	}

	profile := model.UserProfile{
		EducationLevel: byQuestion[QuestionEducation].Value,
		Employed:       byQuestion[QuestionEmployment].Value == "employed",
		Industry:       byQuestion[QuestionEmployment].Attributes["industry"],
		Profession:     byQuestion[QuestionEmployment].Attributes["profession"],
		Direction:      byQuestion[QuestionDirection].Value,
	}
	if topics := byQuestion[QuestionInterests].Attributes["topics"]; topics != "" {
		profile.Interests = strings.Split(topics, ",")
	}
	return profile, true
}

// ProfileQueryText composes the matching query for a profile. Interests lead
// because they dominate what the user wants to learn; employment context and
// direction steer the neighborhood.
func ProfileQueryText(p model.UserProfile) string {
	var b strings.Builder
	b.WriteString(strings.Join(p.Interests, " "))
	if p.Industry != "" {
		b.WriteString(" ")
		b.WriteString(p.Industry)
	}
	if p.Profession != "" {
		b.WriteString(" ")
		b.WriteString(p.Profession)
	}
	if p.Direction == DirectionDeepen && p.Industry != "" {
		b.WriteString(" advanced ")
		b.WriteString(p.Industry)
	}
	if p.EducationLevel != "" {
		b.WriteString(" for ")
		b.WriteString(strings.ToLower(p.EducationLevel))
	}
	return strings.TrimSpace(b.String())
}

// StampAnswer fills the acceptance time on an extracted answer.
func StampAnswer(a model.Answer, at time.Time) model.Answer {
	a.AnsweredAt = at
	return a
}
