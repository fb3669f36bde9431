package gensearch

import "sync"

// BudgetMode records how a call's max-output-token value was computed,
// for auditability of provider spend.
type BudgetMode string

const (
	BudgetProviderDefault    BudgetMode = "provider_default"
	BudgetPerAccountOverride BudgetMode = "per_account_override"
	BudgetBatchedDefault     BudgetMode = "batched_default_per_account"
)

// TokenBudget is the computed output-token allowance for one provider
// call. Base scales with group size; Headroom absorbs formatting and
// markup overhead in the provider's answer.
type TokenBudget struct {
	MaxOutputTokens int
	Base            int
	Headroom        int
	Mode            BudgetMode
}

// ComputeTokenBudget derives the max-output-token parameter for a call
// covering groupSize accounts. base = perAccount × groupSize, using the
// explicit override when configured, else the default; headroom =
// max(base × headroomPct, headroomMin); the total is clamped to ceiling.
func ComputeTokenBudget(groupSize, override, defaultPerAccount int, headroomPct float64, headroomMin, ceiling int) TokenBudget {
	if groupSize <= 0 {
		groupSize = 1
	}

	perAccount := defaultPerAccount
	mode := BudgetProviderDefault
	switch {
	case override > 0:
		perAccount = override
		mode = BudgetPerAccountOverride
	case groupSize > 1:
		mode = BudgetBatchedDefault
	}

	base := perAccount * groupSize
	headroom := int(float64(base) * headroomPct)
	if headroom < headroomMin {
		headroom = headroomMin
	}

	total := base + headroom
	if ceiling > 0 && total > ceiling {
		total = ceiling
	}

	return TokenBudget{
		MaxOutputTokens: total,
		Base:            base,
		Headroom:        headroom,
		Mode:            mode,
	}
}

// CallBudget throttles the number of provider calls permitted within one
// logical run, keyed by user + window. It is passed explicitly by the
// scheduler invocation rather than held as package state, and is safe for
// concurrent fetches sharing the same key.
type CallBudget struct {
	mu    sync.Mutex
	key   string
	limit int
	used  int
}

// NewCallBudget creates a budget of limit calls for the given run key. A
// non-positive limit means unlimited.
func NewCallBudget(key string, limit int) *CallBudget {
	return &CallBudget{key: key, limit: limit}
}

// Allow consumes one call slot, returning false once the budget for the
// current run key is exhausted.
func (b *CallBudget) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 && b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Rekey resets the counter when the run identity changes; a matching key
// keeps the current count.
func (b *CallBudget) Rekey(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if key != b.key {
		b.key = key
		b.used = 0
	}
}

// Used reports how many calls have been consumed for the current key.
func (b *CallBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
