package api

import (
	"encoding/json"
	"sync"

	"github.com/hubertat/httpblinds/position"
)

const subscriberBuffer = 16

type StatusSource interface {
	Status() position.Status
}

// Broadcaster sends the full status of a blind to every subscriber after each
// notification. Slow subscribers miss frames instead of blocking the controller.
type Broadcaster struct {
	lock    sync.RWMutex
	source  StatusSource
	clients map[chan []byte]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan []byte]struct{}),
	}
}

// SetSource must be called before the first notification, the controller is
// usually constructed with the broadcaster already in its notifiers.
func (b *Broadcaster) SetSource(source StatusSource) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.source = source
}

func (b *Broadcaster) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	b.lock.Lock()
	b.clients[ch] = struct{}{}
	b.lock.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.lock.Lock()
			delete(b.clients, ch)
			b.lock.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (b *Broadcaster) Subscribers() int {
	b.lock.RLock()
	defer b.lock.RUnlock()

	return len(b.clients)
}

func (b *Broadcaster) Broadcast() {
	b.lock.RLock()
	source := b.source
	b.lock.RUnlock()
	if source == nil {
		return
	}

	payload, err := json.Marshal(source.Status())
	if err != nil {
		return
	}

	b.lock.RLock()
	defer b.lock.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (b *Broadcaster) CurrentPositionChanged(int)                 { b.Broadcast() }
func (b *Broadcaster) TargetPositionChanged(int)                  { b.Broadcast() }
func (b *Broadcaster) BatteryChanged(int, position.BatteryStatus) { b.Broadcast() }
func (b *Broadcaster) LastUpdateChanged(position.LastUpdate)      { b.Broadcast() }
