package progress

import (
	"sync"
)

// Broadcaster numbers changes and wakes subscribers. Each subscriber holds
// at most one pending sequence number; a newer publish replaces one that
// was not read yet, so slow readers skip straight to the latest change.
type Broadcaster struct {
	mu   sync.Mutex
	seq  uint64
	subs map[chan uint64]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan uint64]struct{})}
}

// Subscribe returns a channel of sequence numbers, closed by unsubscribe.
func (b *Broadcaster) Subscribe() (<-chan uint64, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan uint64, 1)
	b.subs[ch] = struct{}{}

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

func (b *Broadcaster) Publish() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	for ch := range b.subs {
		select {
		case ch <- b.seq:
			continue
		default:
		}
		// only publishers send, under mu, so after the drain there is room
		select {
		case <-ch:
		default:
		}
		ch <- b.seq
	}
	return b.seq
}

// Seq is the number of the latest change.
func (b *Broadcaster) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
