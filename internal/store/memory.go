package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process [Store]. Contents are lost on exit.
type Memory struct {
	mu    sync.RWMutex
	byID  map[string]Evaluation
	order []string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{byID: make(map[string]Evaluation)}
}

// SaveEvaluation implements [Store].
func (m *Memory) SaveEvaluation(ctx context.Context, e Evaluation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ID == "" {
		return fmt.Errorf("store: save evaluation: empty id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[e.ID]; ok {
		return fmt.Errorf("store: save evaluation: duplicate id %q", e.ID)
	}
	m.byID[e.ID] = clone(e)
	m.order = append(m.order, e.ID)
	return nil
}

// GetEvaluation implements [Store].
func (m *Memory) GetEvaluation(ctx context.Context, id string) (Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return Evaluation{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return Evaluation{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return clone(e), nil
}

// ListEvaluations implements [Store].
func (m *Memory) ListEvaluations(ctx context.Context, limit int) ([]Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Evaluation, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, Summary(clone(m.byID[id])))
	}
	m.mu.RUnlock()

	// Insertion order breaks ties between equal timestamps.
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b Evaluation) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements [Store]. It always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements [Store].
func (m *Memory) Close() error { return nil }

// Len returns the number of stored evaluations.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func clone(e Evaluation) Evaluation {
	e.Qualities = slices.Clone(e.Qualities)
	e.Result.Turns = slices.Clone(e.Result.Turns)
	e.Result.Segments = slices.Clone(e.Result.Segments)
	e.Result.Records = slices.Clone(e.Result.Records)
	return e
}
