/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package portpool hands out UDP port numbers from a fixed range.
//
// The pool only tracks numbers. Whoever binds a socket to an allocated
// port owns that socket and is responsible for closing it.
package portpool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eapache/queue"
)

var (
	// ErrExhausted indicates every port in the range is held.
	ErrExhausted = errors.New("no UDP ports available")

	// ErrOutOfRange indicates a port outside [start, end).
	ErrOutOfRange = errors.New("port outside pool range")

	// ErrAlreadyHeld indicates Reserve was asked for a port that is taken.
	ErrAlreadyHeld = errors.New("port already held")
)

// Strategy selects the order in which free ports are handed out.
type Strategy string

const (
	// Lowest always returns the lowest free port.
	Lowest Strategy = "lowest"

	// FIFO returns the port that has been free the longest, so a port
	// released a moment ago is not reused while stale datagrams may
	// still be in flight.
	FIFO Strategy = "fifo"
)

// Option customises a Pool.
type Option func(*Pool)

// WithStrategy selects the allocation order.
func WithStrategy(s Strategy) Option {
	return func(p *Pool) {
		p.strategy = s
	}
}

// Pool manages the ports in [start, end). All methods are safe for
// concurrent use; allocate and release are serialized by one mutex.
type Pool struct {
	start    int
	end      int
	strategy Strategy

	mu   sync.Mutex
	held map[int]struct{}

	// Lowest: every port in [start, hint) is held.
	hint int

	// FIFO: candidate free ports in release order. Entries for ports
	// that were reserved out of band are skipped on pop.
	free *queue.Queue
}

// New creates a pool for the half-open range [start, end).
func New(start, end int, opts ...Option) (*Pool, error) {
	if start < 1 || end > 65536 || start >= end {
		return nil, fmt.Errorf("invalid port range [%d, %d)", start, end)
	}

	p := &Pool{
		start:    start,
		end:      end,
		strategy: Lowest,
		held:     make(map[int]struct{}),
		hint:     start,
	}
	for _, opt := range opts {
		opt(p)
	}

	switch p.strategy {
	case Lowest:
	case FIFO:
		p.free = queue.New()
		for port := start; port < end; port++ {
			p.free.Add(port)
		}
	default:
		return nil, fmt.Errorf("unknown allocation strategy %q", p.strategy)
	}

	return p, nil
}

// Allocate reserves a free port. It returns ErrExhausted when the range is full.
func (p *Pool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.held) >= p.end-p.start {
		return 0, ErrExhausted
	}

	if p.strategy == FIFO {
		for p.free.Length() > 0 {
			port := p.free.Remove().(int)
			if _, taken := p.held[port]; taken {
				continue
			}
			p.held[port] = struct{}{}
			return port, nil
		}
		return 0, ErrExhausted
	}

	for port := p.hint; port < p.end; port++ {
		if _, taken := p.held[port]; taken {
			continue
		}
		p.held[port] = struct{}{}
		p.hint = port + 1
		return port, nil
	}
	return 0, ErrExhausted
}

// Release returns port to the pool. Releasing a port that is not held,
// or is out of range, is a no-op and reports false so cleanup paths can retry.
func (p *Pool) Release(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.held[port]; !ok {
		return false
	}
	delete(p.held, port)

	if p.strategy == FIFO {
		p.free.Add(port)
	} else if port < p.hint {
		p.hint = port
	}
	return true
}

// Reserve marks a specific port as held. It is used to rebuild pool state
// from durable session records after a restart.
func (p *Pool) Reserve(port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if port < p.start || port >= p.end {
		return fmt.Errorf("reserve %d: %w", port, ErrOutOfRange)
	}
	if _, taken := p.held[port]; taken {
		return fmt.Errorf("reserve %d: %w", port, ErrAlreadyHeld)
	}
	p.held[port] = struct{}{}

	if p.strategy == Lowest {
		for p.hint < p.end {
			if _, taken := p.held[p.hint]; !taken {
				break
			}
			p.hint++
		}
	}
	return nil
}

// Held reports whether port is currently allocated.
func (p *Pool) Held(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.held[port]
	return ok
}

// Contains reports whether port lies inside the pool range.
func (p *Pool) Contains(port int) bool {
	return port >= p.start && port < p.end
}

// InUse returns the number of held ports.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.held)
}

// Size returns the total number of ports in the range.
func (p *Pool) Size() int {
	return p.end - p.start
}

// Available returns the number of free ports.
func (p *Pool) Available() int {
	return p.Size() - p.InUse()
}
