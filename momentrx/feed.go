package momentrx

import (
	"sync"
	"sync/atomic"

	"github.com/chzchzchz/momentrx/ring"
)

// RayMessage is a collected ray as streamed to remote collectors, with the
// quantized gates of every product keyed by product symbol.
type RayMessage struct {
	RaySummary
	Display map[string][]byte `json:"display"`
}

// Feed fans collected rays out to subscribers. A subscriber that falls
// behind misses rays rather than stalling the collector.
type Feed struct {
	mu      sync.Mutex
	subs    map[chan RayMessage]struct{}
	dropped atomic.Uint64
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan RayMessage]struct{})}
}

func (f *Feed) Sink(ray *ring.Ray) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return
	}
	msg := RayMessage{RaySummary: summarize(ray), Display: make(map[string][]byte, ring.ProductCount)}
	for p := ring.Product(0); p < ring.ProductCount; p++ {
		msg.Display[p.String()] = append([]byte(nil), ray.Display[p][:ray.Gates]...)
	}
	for ch := range f.subs {
		select {
		case ch <- msg:
		default:
			f.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of rays and the function that ends the
// subscription and closes the channel.
func (f *Feed) Subscribe(depth int) (<-chan RayMessage, func()) {
	ch := make(chan RayMessage, depth)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) Dropped() uint64 { return f.dropped.Load() }
