package query

import (
	"context"
	"sync"
)

// MutateFn performs a write.
type MutateFn[In, Out any] func(ctx context.Context, in In) (Out, error)

// Mutation wraps a write with loading and error state. On success it invalidates every cached query whose key starts
// with one of its invalidation prefixes.
type Mutation[In, Out any] struct {
	client     *Client
	mutate     MutateFn[In, Out]
	invalidate []string

	mux      sync.Mutex
	inFlight int
	state    State[Out]
}

// NewMutation builds a mutation that invalidates `invalidateKeys` (as prefixes) after each successful write.
func NewMutation[In, Out any](client *Client, mutate MutateFn[In, Out], invalidateKeys ...string) *Mutation[In, Out] {
	return &Mutation[In, Out]{client: client, mutate: mutate, invalidate: invalidateKeys}
}

// State returns the outcome of the last finished write, with IsLoading set while any write runs.
func (m *Mutation[In, Out]) State() State[Out] {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.state
}

// Mutate runs the write and returns its error; the same outcome is reflected in State.
func (m *Mutation[In, Out]) Mutate(ctx context.Context, in In) (Out, error) {
	m.mux.Lock()
	m.inFlight++
	m.state.IsLoading = true
	m.mux.Unlock()

	out, err := m.mutate(ctx, in)
	if err == nil {
		for _, prefix := range m.invalidate {
			m.client.Invalidate(prefix)
		}
	}

	m.mux.Lock()
	defer m.mux.Unlock()
	m.inFlight--
	m.state.IsLoading = m.inFlight > 0
	m.state.IsError = err != nil
	m.state.Err = err
	if err == nil {
		m.state.Data = out
		m.state.UpdatedAt = m.client.clock.Now()
	}
	return out, err
}
