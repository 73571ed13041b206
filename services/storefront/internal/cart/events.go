package cart

import "sync"

// EventUpdated is published after every cart mutation.
const EventUpdated = "cart.updated"

// Event tells listeners that a cart changed.
type Event struct {
	Type  string `json:"type"`
	Owner string `json:"-"`
	Count int    `json:"count"`
}

// Broadcaster fans cart events out to subscribers of the same owner.
// Slow subscribers drop events rather than block publishers.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Event
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[int]chan Event)}
}

// Subscribe registers a listener for owner. The returned cancel func must be
// called to release it; it closes the channel.
func (b *Broadcaster) Subscribe(owner string) (<-chan Event, func()) {
	ch := make(chan Event, 8)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[owner] == nil {
		b.subs[owner] = make(map[int]chan Event)
	}
	b.subs[owner][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[owner], id)
			if len(b.subs[owner]) == 0 {
				delete(b.subs, owner)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber of ev.Owner.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[ev.Owner] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports how many listeners owner has.
func (b *Broadcaster) Subscribers(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[owner])
}
