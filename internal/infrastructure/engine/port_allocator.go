package engine

import (
	"fmt"
	"sync"
)

type portAllocator struct {
	mu   sync.Mutex
	min  uint16
	max  uint16
	next uint16
	used map[uint16]struct{}
}

func newPortAllocator(min, max uint16) *portAllocator {
	return &portAllocator{
		min:  min,
		max:  max,
		next: min,
		used: make(map[uint16]struct{}),
	}
}

func (a *portAllocator) allocate() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := int(a.max) - int(a.min) + 1
	for i := 0; i < size; i++ {
		port := a.next
		if a.next == a.max {
			a.next = a.min
		} else {
			a.next++
		}
		if _, taken := a.used[port]; !taken {
			a.used[port] = struct{}{}
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free RTC port in range %d-%d", a.min, a.max)
}

func (a *portAllocator) release(port uint16) {
	a.mu.Lock()
	delete(a.used, port)
	a.mu.Unlock()
}
