package cog

import (
	"sync"
)

// Pool hands out shared readers keyed by dataset path so the directory walk
// and per-reader tile cache are paid once per dataset, not per request.
type Pool struct {
	opts Options

	mu      sync.Mutex
	readers map[string]*Reader
}

// NewPool creates a reader pool with the given reader options.
func NewPool(opts Options) *Pool {
	return &Pool{
		opts:    opts,
		readers: make(map[string]*Reader),
	}
}

// Get returns the shared reader for a dataset, opening it on first use.
func (p *Pool) Get(path string) (*Reader, error) {
	p.mu.Lock()
	if r, ok := p.readers[path]; ok {
		p.mu.Unlock()
		return r, nil
	}
	p.mu.Unlock()

	// Opening walks the remote directory chain; do it outside the lock.
	r, err := Open(path, p.opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.readers[path]; ok {
		r.Close()
		return existing, nil
	}
	p.readers[path] = r
	return r, nil
}

// Close closes every pooled reader.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.readers {
		r.Close()
	}
	p.readers = make(map[string]*Reader)
}
