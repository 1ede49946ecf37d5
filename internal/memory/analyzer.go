package memory

import (
	"regexp"
	"strings"
	"time"

	"github.com/browseragent/taskqueue/internal/store"
)

// Analyzer scores MemoryEntry relevance with the additive bonus/penalty
// model spec.md §4.8's MemoryAnalyzer contract names: a recency bonus, a
// set of content-token bonuses, a role bonus, and a penalty for
// short/acknowledgement-only content, clamped to [0,1]. Weights are
// unexported constants rather than Config fields since the spec treats
// them as fixed scoring policy, not a runtime tunable (only
// compressionTrigger/fullMessageWindow/minRelevance adapt over time).
type Analyzer struct {
	now func() time.Time
}

// NewAnalyzer builds an Analyzer using time.Now for recency scoring.
func NewAnalyzer() *Analyzer {
	return &Analyzer{now: time.Now}
}

const (
	recencyBonusFresh   = 0.2  // age < 1h
	recencyBonusRecent  = 0.1  // age < 24h
	recencyPenaltyStale = -0.1 // age >= 24h

	contentBonusError      = 0.15
	contentBonusURL        = 0.1
	contentBonusSelector   = 0.1
	contentBonusCredential = 0.15
	contentBonusImportance = 0.15

	roleBonusSystemOrTool = 0.1

	shortContentPenalty = -0.2
	shortContentMinLen  = 20
)

var (
	errorTokenPattern      = regexp.MustCompile(`(?i)\b(error|exception|failed|failure|traceback)\b`)
	urlTokenPattern        = regexp.MustCompile(`https?://\S+`)
	selectorTokenPattern   = regexp.MustCompile(`#[\w-]+|\.[a-zA-Z][\w-]*\b|\[[a-zA-Z][\w-]*=`)
	credentialTokenPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|password|token|secret|credential)\b`)
	importanceTokenPattern = regexp.MustCompile(`(?i)\b(important|remember|must|critical)\b|note:`)
	ackOnlyPattern         = regexp.MustCompile(`(?i)^(ok|okay|thanks|thank you|got it|sure|yes|no|done)[.!]?$`)
)

// roleBonus reports the bonus a message's role earns: system/tool framing
// tends to carry task-relevant signal that idle chatter doesn't.
func roleBonus(role string) float64 {
	switch role {
	case "system", "tool", "tool_result":
		return roleBonusSystemOrTool
	default:
		return 0
	}
}

// Score recomputes an entry's relevance from its stored score plus the
// recency/content/role bonuses and short-content penalty spec.md §4.8
// names, clamped to [0,1].
func (a *Analyzer) Score(e *store.MemoryEntry) float64 {
	score := e.RelevanceScore

	age := a.now().Sub(e.CreatedAt)
	switch {
	case age < time.Hour:
		score += recencyBonusFresh
	case age < 24*time.Hour:
		score += recencyBonusRecent
	default:
		score += recencyPenaltyStale
	}

	content := e.Content
	if errorTokenPattern.MatchString(content) {
		score += contentBonusError
	}
	if urlTokenPattern.MatchString(content) {
		score += contentBonusURL
	}
	if selectorTokenPattern.MatchString(content) {
		score += contentBonusSelector
	}
	if credentialTokenPattern.MatchString(content) {
		score += contentBonusCredential
	}
	if importanceTokenPattern.MatchString(content) {
		score += contentBonusImportance
	}

	score += roleBonus(e.Role)

	trimmed := strings.TrimSpace(content)
	if len(trimmed) < shortContentMinLen || ackOnlyPattern.MatchString(trimmed) {
		score += shortContentPenalty
	}

	return clampFloat(score, 0, 1)
}

// IsKeyFact reports whether content matches one of the "key fact" markers
// the promote rule looks for: an explicit importance marker, or an
// error/URL/selector/credential token worth carrying past this session.
func IsKeyFact(content string) bool {
	return importanceTokenPattern.MatchString(content) ||
		errorTokenPattern.MatchString(content) ||
		urlTokenPattern.MatchString(content) ||
		selectorTokenPattern.MatchString(content) ||
		credentialTokenPattern.MatchString(content)
}

// keyFactCategory classifies content for cross-session indexing, the
// first marker family it matches.
func keyFactCategory(content string) string {
	switch {
	case credentialTokenPattern.MatchString(content):
		return "credential"
	case errorTokenPattern.MatchString(content):
		return "error"
	case urlTokenPattern.MatchString(content):
		return "url"
	case selectorTokenPattern.MatchString(content):
		return "selector"
	default:
		return "fact"
	}
}

const redundancyMinContentLen = 50

// Redundant reports whether a and b overlap enough, by Jaccard similarity
// of their lowercased word sets, to treat one as a near-duplicate of the
// other. Only entries at least redundancyMinContentLen characters long are
// considered, per the MemoryAnalyzer contract.
func Redundant(a, b string, threshold float64) bool {
	if len(a) < redundancyMinContentLen || len(b) < redundancyMinContentLen {
		return false
	}
	return jaccard(wordSet(a), wordSet(b)) >= threshold
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// EstimatedTokens returns a rough token count for an entry's content, used
// both for usage-ratio bookkeeping and for measuring compression gains.
func EstimatedTokens(counter TokenCounter, e *store.MemoryEntry) int {
	if counter == nil {
		return len(e.Content) / 4
	}
	return counter.Count(e.Content)
}
