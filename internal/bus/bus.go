package bus

import (
	"context"
	"sync"
)

const (
	inboundQueueDepth  = 256
	outboundQueueDepth = 256
	subscriberQueueDepth = 64
)

// MessageBus is the gateway's single in-process message/event backbone: inbound
// channel traffic queues for the agent runtime to consume, agent replies
// queue for channel adapters to deliver, and broadcast events fan out to
// every subscriber (the managed HTTP websocket, cache-invalidation
// listeners, streaming-chunk forwarders).
//
// It implements both MessageRouter and EventPublisher so call sites can
// depend on whichever narrower interface they actually need.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	dedupe *DedupeCache

	subMu sync.Mutex
	subs  map[string]chan Event
}

// New constructs a ready-to-use MessageBus with the package's default queue depths.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, inboundQueueDepth),
		outbound: make(chan OutboundMessage, outboundQueueDepth),
		dedupe:   NewDedupeCache(),
		subs:     make(map[string]chan Event),
	}
}

// PublishInbound enqueues msg for ConsumeInbound, unless it's a duplicate
// of a message already queued within the dedupe window (channel adapters
// that redeliver on reconnect are common; dedupe keys on channel+sender+
// chat+content).
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	if b.dedupe.SeenInbound(msg) {
		return
	}
	select {
	case b.inbound <- msg:
	default:
		// Queue full: drop rather than block the channel adapter's read loop.
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues msg for delivery by a channel adapter.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
	}
}

// SubscribeOutbound blocks until an outbound message is available or ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// Subscribe registers handler under id, replacing any existing subscription
// with the same id. Events are delivered from a per-subscriber goroutine so
// one slow handler can't stall Broadcast for everyone else.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	ch := make(chan Event, subscriberQueueDepth)

	b.subMu.Lock()
	if old, ok := b.subs[id]; ok {
		close(old)
	}
	b.subs[id] = ch
	b.subMu.Unlock()

	go func() {
		for ev := range ch {
			handler(ev)
		}
	}()
}

// Unsubscribe removes id's subscription.
func (b *MessageBus) Unsubscribe(id string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Broadcast fans event out to every subscriber. A subscriber whose queue is
// full drops the oldest buffered event to make room, matching the inbox
// broadcaster's lagged-subscriber-skips-not-disconnects semantics rather
// than blocking the publisher.
func (b *MessageBus) Broadcast(event Event) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}
