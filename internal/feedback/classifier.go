// Package feedback classifies a free-text user message received during a
// gate's review state into a feedback type and sentiment, using lexicon
// token matching rather than a model call. Classifications are heuristics:
// hints for routing the Feedback-Driven Revision Loop, not semantic
// guarantees.
package feedback

import "strings"

// Type is the feedback category assigned to a message.
type Type string

const (
	TypeChangeRequest Type = "CHANGE_REQUEST"
	TypePreference    Type = "PREFERENCE"
	TypeSuggestion    Type = "SUGGESTION"
	TypeQuestion      Type = "QUESTION"
	TypeApproval      Type = "APPROVAL"
	TypeRejection     Type = "REJECTION"
	TypeBugReport     Type = "BUG_REPORT"
	TypeClarification Type = "CLARIFICATION"
	TypeOther         Type = "OTHER"
)

// Sentiment is a coarse polarity read on the message.
type Sentiment string

const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
	SentimentNegative Sentiment = "NEGATIVE"
)

// Classification is the result of classifying a message.
type Classification struct {
	Type          Type
	Sentiment     Sentiment
	MatchedTokens []string
	IsFeedback    bool
}

// lexicon maps each Type to the tokens that signal it. Order matters only
// for tie-breaking: earlier entries win ties, reflecting that an explicit
// rejection or approval is a stronger signal than a vague suggestion.
var lexicon = []struct {
	typ    Type
	tokens []string
}{
	{TypeRejection, []string{"reject", "rejected", "no good", "not acceptable", "start over", "redo", "unacceptable", "denied"}},
	{TypeApproval, []string{"approve", "approved", "looks good", "lgtm", "sounds good", "ship it", "good to go", "accept", "accepted"}},
	{TypeBugReport, []string{"bug", "broken", "crash", "crashes", "error", "doesn't work", "does not work", "fails", "failing", "exception"}},
	{TypeChangeRequest, []string{"change", "instead", "please use", "switch to", "update the", "modify", "replace", "remove", "add a", "add the"}},
	{TypeQuestion, []string{"why", "how come", "what is", "what's", "can you explain", "clarify", "?"}},
	{TypeClarification, []string{"i meant", "to clarify", "what i mean", "in other words", "just to be clear"}},
	{TypePreference, []string{"i prefer", "i'd rather", "i would rather", "better if", "would like"}},
	{TypeSuggestion, []string{"suggest", "suggestion", "consider", "what if", "maybe try", "could also"}},
}

var positiveTokens = []string{
	"good", "great", "nice", "excellent", "perfect", "love", "like", "approve", "approved",
	"works", "working", "lgtm", "thanks", "thank you", "awesome", "solid",
}

var negativeTokens = []string{
	"bad", "wrong", "broken", "bug", "crash", "fail", "failing", "fails", "hate", "reject",
	"rejected", "unacceptable", "doesn't work", "does not work", "confusing", "unclear",
}

// Classify assigns a Type and Sentiment to message. A message with no
// lexicon match at all is OTHER with IsFeedback false — the revision loop
// should not trigger on messages that carry no feedback signal.
func Classify(message string) Classification {
	lower := strings.ToLower(message)

	bestType := TypeOther
	bestCount := 0
	var bestMatches []string

	for _, entry := range lexicon {
		var matches []string
		for _, tok := range entry.tokens {
			if strings.Contains(lower, tok) {
				matches = append(matches, tok)
			}
		}
		if len(matches) > bestCount {
			bestCount = len(matches)
			bestType = entry.typ
			bestMatches = matches
		}
	}

	positive := countMatches(lower, positiveTokens)
	negative := countMatches(lower, negativeTokens)
	sentiment := SentimentNeutral
	switch {
	case positive > negative:
		sentiment = SentimentPositive
	case negative > positive:
		sentiment = SentimentNegative
	}

	return Classification{
		Type:          bestType,
		Sentiment:     sentiment,
		MatchedTokens: bestMatches,
		IsFeedback:    bestCount > 0,
	}
}

func countMatches(lower string, tokens []string) int {
	n := 0
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			n++
		}
	}
	return n
}
