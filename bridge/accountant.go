package bridge

import "github.com/tether-dev/tether-core/wire"

// accountant tracks token usage across turns of a worker session. All fields
// are protected by the Bridge's mutex.
//
// Context occupancy is recomputed from scratch on every terminal result
// rather than accumulated, so a snapshot that arrives after compaction
// reflects the shrunken context immediately.
type accountant struct {
	lastUsage     wire.Usage
	contextTokens int
	costUSD       float64
}

// Record ingests the usage block of a terminal result and returns the new
// context occupancy. A nil usage block leaves the previous figures in place.
func (a *accountant) Record(u *wire.Usage) int {
	if u == nil {
		return a.contextTokens
	}
	a.lastUsage = *u
	a.contextTokens = u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
	return a.contextTokens
}

// AddCost accumulates the reported cost of one query.
func (a *accountant) AddCost(usd float64) {
	a.costUSD += usd
}

// Reset clears all usage figures. Called when a query starts a fresh session
// instead of resuming, since the worker's context starts empty.
func (a *accountant) Reset() {
	a.lastUsage = wire.Usage{}
	a.contextTokens = 0
	a.costUSD = 0
}

// ContextTokens returns the current context occupancy in tokens.
func (a *accountant) ContextTokens() int {
	return a.contextTokens
}

// LastUsage returns the usage block of the most recent terminal result.
func (a *accountant) LastUsage() wire.Usage {
	return a.lastUsage
}

// CostUSD returns the accumulated cost since the last reset.
func (a *accountant) CostUSD() float64 {
	return a.costUSD
}
