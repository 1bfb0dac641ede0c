package workflow

import "context"

// EvidenceProvider gathers grounded material for one route. Gather mutates
// the state's Evidence, Unresolved and Charts fields; returning an error
// marks the attempt as failed rather than empty.
type EvidenceProvider interface {
	// Route returns the route this provider serves.
	Route() Route

	// Gather collects evidence for the state's current query.
	Gather(ctx context.Context, state *State) error
}
