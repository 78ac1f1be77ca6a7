package store

import (
	"errors"
	"sync"
)

// Provider is a process-wide, lazily opened store handle.
//
// The first successful Get memoizes the handle; later calls reuse it. A failed
// open is not memoized, so the next Get tries again. Close is meant for
// process exit.
type Provider struct {
	path string

	mu     sync.Mutex
	st     *Store
	closed bool
}

// NewProvider creates a provider for the database at path. Nothing is opened
// until the first Get.
func NewProvider(path string) *Provider {
	return &Provider{path: path}
}

// Get returns the shared store, opening it on first use.
func (p *Provider) Get() (*Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, &Error{Op: "open", Err: errProviderClosed}
	}
	if p.st != nil {
		return p.st, nil
	}

	st, err := Open(p.path)
	if err != nil {
		return nil, err
	}
	p.st = st
	return st, nil
}

// Close closes the shared store if it was opened. Safe to call more than once.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.st == nil {
		return nil
	}
	err := p.st.Close()
	p.st = nil
	return err
}

var errProviderClosed = errors.New("provider closed")
