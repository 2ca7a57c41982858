package delivery

import "sync"

// subscriberQueueDepth bounds how far a slow subscriber can lag before
// broadcaster starts dropping its oldest buffered event rather than
// blocking the publisher or disconnecting the subscriber.
const subscriberQueueDepth = 64

type subscriber struct {
	ch      chan Event
	done    chan struct{}
	handler func(Event)
}

// broadcaster fans Events out to registered subscribers. A subscriber that
// falls behind has its oldest undelivered event dropped to make room for
// the new one — it keeps receiving, just with a gap in the sequence,
// matching "lagged subscribers skip gaps rather than disconnect."
type broadcaster struct {
	mu   sync.Mutex
	subs map[string]*subscriber
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[string]*subscriber)}
}

func (b *broadcaster) Subscribe(id string, handler func(Event)) {
	sub := &subscriber{
		ch:      make(chan Event, subscriberQueueDepth),
		done:    make(chan struct{}),
		handler: handler,
	}

	b.mu.Lock()
	if old, ok := b.subs[id]; ok {
		close(old.done)
	}
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.ch:
				sub.handler(ev)
			case <-sub.done:
				return
			}
		}
	}()
}

func (b *broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

func (b *broadcaster) Broadcast(ev Event) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			// Full: drop the oldest buffered event, then deliver this one.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}
