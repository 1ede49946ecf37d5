package router

// tier ranks a provider/model pair from cheapest+fastest (0) to most
// capable+expensive (len-1). The self-learner upgrades by moving up a
// tier and proposes downgrade tests by moving down one, within the same
// provider's ladder.
type tier struct {
	provider string
	model    string
}

// ladders is a static escalation table for the providers the task queue
// knows about. It stands in for a pricing/capability catalog a production
// deployment would load from the provider's own API; ungrouped
// provider/model pairs are treated as having no adjacent tier, so the
// self-learner leaves them alone rather than guessing.
var ladders = map[string][]tier{
	"anthropic": {
		{"anthropic", "claude-haiku"},
		{"anthropic", "claude-sonnet"},
		{"anthropic", "claude-opus"},
	},
	"openai": {
		{"openai", "gpt-4o-mini"},
		{"openai", "gpt-4o"},
		{"openai", "gpt-4.1"},
	},
}

// ladderFor returns the tier ladder containing provider/model, or nil if
// unknown.
func ladderFor(provider, model string) []tier {
	l, ok := ladders[provider]
	if !ok {
		return nil
	}
	for _, t := range l {
		if t.model == model {
			return l
		}
	}
	return nil
}

// indexOf returns the position of provider/model within its ladder, or -1.
func indexOf(l []tier, provider, model string) int {
	for i, t := range l {
		if t.provider == provider && t.model == model {
			return i
		}
	}
	return -1
}

// nextUp returns the next more-capable tier above provider/model, if any.
func nextUp(provider, model string) (tier, bool) {
	l := ladderFor(provider, model)
	i := indexOf(l, provider, model)
	if i < 0 || i+1 >= len(l) {
		return tier{}, false
	}
	return l[i+1], true
}

// nextDown returns the next cheaper tier below provider/model, if any.
func nextDown(provider, model string) (tier, bool) {
	l := ladderFor(provider, model)
	i := indexOf(l, provider, model)
	if i <= 0 {
		return tier{}, false
	}
	return l[i-1], true
}
