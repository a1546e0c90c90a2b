package dft

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	ErrPlanCacheFull = errors.New("dft plan cache capacity exceeded")
	ErrBadSize       = errors.New("dft size must be a positive power of two")
	ErrBadWorker     = errors.New("dft worker index out of range")
)

// DefaultCapacity covers every power of two up to 2^17 samples.
const DefaultCapacity = 18

// Cache maps a transform size to one Plan per worker. Sizes are added under
// mu by copying the table and publishing the copy, so lookups never lock.
type Cache struct {
	backend  Backend
	workers  int
	capacity int

	mu    sync.Mutex
	table atomic.Pointer[map[int][]Plan]
}

func NewCache(b Backend, workers, capacity int) (*Cache, error) {
	if workers <= 0 {
		return nil, ErrBadWorker
	}
	switch b {
	case FFTW, Gonum:
	case "":
		b = FFTW
	default:
		return nil, fmt.Errorf("unknown dft backend %q", b)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{backend: b, workers: workers, capacity: capacity}
	c.table.Store(&map[int][]Plan{})
	return c, nil
}

func (c *Cache) Backend() Backend { return c.backend }

// Get returns worker's plan of size n, building plans of that size for every
// worker the first time the size is requested.
func (c *Cache) Get(worker, n int) (Plan, error) {
	if worker < 0 || worker >= c.workers {
		return nil, ErrBadWorker
	}
	if plans, ok := (*c.table.Load())[n]; ok {
		return plans[worker], nil
	}
	if !IsPow2(n) {
		return nil, ErrBadSize
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	old := *c.table.Load()
	if plans, ok := old[n]; ok {
		return plans[worker], nil
	}
	if len(old) >= c.capacity {
		return nil, ErrPlanCacheFull
	}
	plans := make([]Plan, c.workers)
	for i := range plans {
		p, err := newPlan(c.backend, n)
		if err != nil {
			return nil, err
		}
		plans[i] = p
	}
	table := make(map[int][]Plan, len(old)+1)
	for k, v := range old {
		table[k] = v
	}
	table[n] = plans
	c.table.Store(&table)
	return plans[worker], nil
}

// Sizes lists the cached transform sizes in increasing order.
func (c *Cache) Sizes() []int {
	t := *c.table.Load()
	ret := make([]int, 0, len(t))
	for n := range t {
		ret = append(ret, n)
	}
	sort.Ints(ret)
	return ret
}

// Close destroys every plan. No worker may hold a plan afterwards.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, plans := range *c.table.Load() {
		for _, p := range plans {
			p.Destroy()
		}
	}
	c.table.Store(&map[int][]Plan{})
}

func IsPow2(n int) bool { return n > 0 && n&(n-1) == 0 }

// NextPow2 is the smallest power of two no less than n.
func NextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
