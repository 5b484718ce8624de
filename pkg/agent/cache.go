package agent

// DefaultCacheBudget is the number of cache markers available to history.
// The instructional prefix carries its own marker on top of this.
const DefaultCacheBudget = 3

// CacheAnnotator marks the history segments most likely to be re-sent on the
// next turn so the provider can serve them from its prompt cache.
type CacheAnnotator struct {
	Budget int
}

// NewCacheAnnotator returns an annotator with the given budget, or the
// default when budget is not positive.
func NewCacheAnnotator(budget int) CacheAnnotator {
	if budget <= 0 {
		budget = DefaultCacheBudget
	}
	return CacheAnnotator{Budget: budget}
}

// Annotate returns a copy of msgs where the last message and the second most
// recent user message carry a cache marker, within budget. It reports how
// many markers were placed. msgs is not modified.
func (a CacheAnnotator) Annotate(msgs []Message) ([]Message, int) {
	out := CloneMessages(msgs)
	if len(out) == 0 || a.Budget <= 0 {
		return out, 0
	}

	used := 0
	mark := func(i int) {
		if used >= a.Budget {
			return
		}
		out[i].Content = NewPartsContent(Part{
			Type:         "text",
			Text:         out[i].Content.String(),
			CacheControl: Ephemeral(),
		})
		used++
	}

	last := len(out) - 1
	mark(last)

	users := 0
	for i := last; i >= 0; i-- {
		if out[i].Role != RoleUser {
			continue
		}
		users++
		if users == 2 {
			if i != last {
				mark(i)
			}
			break
		}
	}

	return out, used
}
