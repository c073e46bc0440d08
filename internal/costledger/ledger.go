// Package costledger accounts for LLM token spend per agent spawn and
// project, adapted from the teacher's OAuth token-pool bookkeeping
// (internal/tokenpool) but retargeted from "which credential served this
// request" to "how many tokens did this agent spend."
package costledger

import (
	"context"

	"github.com/relaygate/castellan/internal/truth"
)

// Usage is a single recorded token spend, keyed to the agent spawn that
// produced it.
type Usage struct {
	SpawnID      string
	AgentName    string
	Gate         string
	InputTokens  int
	OutputTokens int
}

// TotalTokens returns InputTokens + OutputTokens.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// Ledger derives cost accounting from the agent_spawns projection; it
// holds no state of its own beyond a reference to the Truth Store, since
// token usage is already recorded on the spawn record by
// spawn.Enforcer.CompleteSpawn.
type Ledger struct {
	store *truth.Store
}

// New constructs a cost ledger backed by store.
func New(store *truth.Store) *Ledger {
	return &Ledger{store: store}
}

// ForProject returns one Usage entry per agent spawn in the project that
// recorded nonzero token usage, whatever the spawn's status.
func (l *Ledger) ForProject(ctx context.Context, projectID string) ([]Usage, error) {
	spawns, err := l.store.ListSpawns(ctx, projectID, "")
	if err != nil {
		return nil, err
	}
	usages := make([]Usage, 0, len(spawns))
	for _, s := range spawns {
		if s.InputTokens == 0 && s.OutputTokens == 0 {
			continue
		}
		usages = append(usages, Usage{
			SpawnID: s.ID, AgentName: s.AgentName, Gate: s.Gate,
			InputTokens: s.InputTokens, OutputTokens: s.OutputTokens,
		})
	}
	return usages, nil
}

// TotalForProject sums token usage across every agent spawn in the
// project.
func (l *Ledger) TotalForProject(ctx context.Context, projectID string) (int, error) {
	usages, err := l.ForProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, u := range usages {
		total += u.TotalTokens()
	}
	return total, nil
}

// ByAgent aggregates token usage per agent name within a project, for
// reporting which agent roles are the most expensive to run.
func (l *Ledger) ByAgent(ctx context.Context, projectID string) (map[string]int, error) {
	usages, err := l.ForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int)
	for _, u := range usages {
		totals[u.AgentName] += u.TotalTokens()
	}
	return totals, nil
}
