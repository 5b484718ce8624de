package agent

// DefaultTrimBudget is the number of messages kept for a model call.
const DefaultTrimBudget = 15

// Trimmer bounds the history sent to the model. Every message costs one
// unit of budget.
type Trimmer struct {
	Budget int
}

// NewTrimmer returns a trimmer with the given budget, or the default when
// budget is not positive.
func NewTrimmer(budget int) Trimmer {
	if budget <= 0 {
		budget = DefaultTrimBudget
	}
	return Trimmer{Budget: budget}
}

// Trim keeps a leading system message plus the most recent messages that fit
// the remaining budget, then drops from the front of that suffix until it
// starts with a user message. When the suffix holds no user message only the
// system message (if any) is returned. The input slice is never modified.
func (t Trimmer) Trim(msgs []Message) []Message {
	budget := t.Budget
	if budget <= 0 {
		budget = DefaultTrimBudget
	}
	if len(msgs) == 0 {
		return []Message{}
	}

	var head []Message
	rest := msgs
	if msgs[0].Role == RoleSystem {
		head = msgs[:1]
		rest = msgs[1:]
		budget--
	}

	start := len(rest) - budget
	if start < 0 {
		start = 0
	}
	if budget <= 0 {
		start = len(rest)
	}
	for start < len(rest) && rest[start].Role != RoleUser {
		start++
	}

	out := make([]Message, 0, len(head)+len(rest)-start)
	for _, m := range head {
		out = append(out, m.Clone())
	}
	for _, m := range rest[start:] {
		out = append(out, m.Clone())
	}
	return out
}
