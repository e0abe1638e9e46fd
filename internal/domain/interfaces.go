package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Persister is the persistence boundary of the ledger: four independently
// keyed documents, read at startup and rewritten after every mutation.
type Persister interface {
	// Load returns all four collections. Missing documents load as empty.
	Load(ctx context.Context) (Snapshot, error)

	// Save replaces one collection document with v.
	Save(ctx context.Context, key CollectionKey, v any) error
}

// Document is one collection queued for a batched save.
type Document struct {
	Key   CollectionKey
	Value any
}

// BatchPersister replaces several collections all-or-nothing. The ledger
// uses it for mutations that touch more than one collection.
type BatchPersister interface {
	Persister
	SaveAll(ctx context.Context, docs []Document) error
}

// Prompt is what the core hands to the agent: a role, the user's words,
// and the only state the agent is allowed to see.
type Prompt struct {
	Role AgentRole
	// Instruction is the role's standing instruction.
	Instruction string
	Utterance   string
	Context     string
}

// Proposal is a complete, parsed agent response.
type Proposal struct {
	Actions []ActionCall
	Text    string
}

// Gateway is the opaque external agent. One request, one response; it
// shares no mutable state with the core. Failures are *GatewayError.
type Gateway interface {
	Propose(ctx context.Context, p Prompt) (Proposal, error)
}
