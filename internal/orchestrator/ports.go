package orchestrator

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Default measurement port range, inclusive.
const (
	DefaultFirstPort = 5201
	DefaultLastPort  = 5221
)

// PortPool hands out measurement ports. A port is held by at most one
// device at a time. It is safe for concurrent use.
type PortPool struct {
	mu   sync.Mutex
	free []int
	held map[int]string
	size int
}

// NewPortPool creates a pool of the ports first..last.
func NewPortPool(first, last int) (*PortPool, error) {
	if first <= 0 || last > 65535 || last < first {
		return nil, fmt.Errorf("orchestrator: invalid port range %d-%d", first, last)
	}
	p := &PortPool{held: make(map[int]string), size: last - first + 1}
	for port := first; port <= last; port++ {
		p.free = append(p.free, port)
	}
	return p, nil
}

// Size returns the number of ports in the pool.
func (p *PortPool) Size() int {
	return p.size
}

// Acquire takes the lowest free port for deviceID.
func (p *PortPool) Acquire(deviceID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return 0, fmt.Errorf("%w for %s", ErrNoPort, deviceID)
	}
	port := p.free[0]
	p.free = p.free[1:]
	p.held[port] = deviceID
	return port, nil
}

// Release returns port to the pool. Releasing a port that is not held is
// a no-op.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.held[port]; !ok {
		return
	}
	delete(p.held, port)
	i, _ := slices.BinarySearch(p.free, port)
	p.free = slices.Insert(p.free, i, port)
}

// InUse returns a copy of the held ports and their devices.
func (p *PortPool) InUse() map[int]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.held)
}

// Available returns the number of free ports.
func (p *PortPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
