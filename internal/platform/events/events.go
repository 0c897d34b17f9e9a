// Package events announces completed ingestion runs to downstream
// consumers.
package events

import (
	"context"
	"sync"
	"time"
)

// Event kinds.
const (
	KindImaging  = "imaging"
	KindPatients = "patients"
)

// IngestCompleted is published after an artifact is written.
type IngestCompleted struct {
	RunID       string    `json:"run_id"`
	Kind        string    `json:"kind"`
	Count       int       `json:"count"`
	Skipped     int       `json:"skipped"`
	Artifact    string    `json:"artifact"`
	Format      string    `json:"format"`
	Degraded    bool      `json:"degraded"`
	ObjectURI   string    `json:"object_uri,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

type Publisher interface {
	Publish(ctx context.Context, evt IngestCompleted) error
	Close() error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, IngestCompleted) error { return nil }
func (NopPublisher) Close() error                                   { return nil }

// MemoryPublisher records events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []IngestCompleted
}

func (p *MemoryPublisher) Publish(_ context.Context, evt IngestCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Events returns a copy of the recorded events.
func (p *MemoryPublisher) Events() []IngestCompleted {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]IngestCompleted, len(p.events))
	copy(out, p.events)
	return out
}
