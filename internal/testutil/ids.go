package testutil

import (
	"fmt"
	"sync"
)

// SeqGenerator yields "<prefix>-1", "<prefix>-2", ... and never runs out.
// It satisfies engine.IDGenerator.
//
// Safe for concurrent use.
type SeqGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSeqGenerator creates a generator. An empty prefix means "id".
func NewSeqGenerator(prefix string) *SeqGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SeqGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SeqGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset restarts the sequence at 1.
func (g *SeqGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
