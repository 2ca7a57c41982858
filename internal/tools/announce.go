package tools

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// AnnounceQueueItem is one subagent completion waiting to be announced to its parent.
type AnnounceQueueItem struct {
	SubagentID string
	Label      string
	Status     string
	Result     string
	Runtime    time.Duration
	Iterations int
}

// AnnounceMetadata carries the origin context needed to route a batched announce.
type AnnounceMetadata struct {
	OriginChannel    string
	OriginChatID     string
	OriginPeerKind   string
	OriginUserID     string
	ParentAgent      string
	OriginTraceID    string
	OriginRootSpanID string
}

// AnnounceFlushFunc delivers a batch of announces accumulated for sessionKey.
type AnnounceFlushFunc func(sessionKey string, items []AnnounceQueueItem, meta AnnounceMetadata)

type announceBatch struct {
	items []AnnounceQueueItem
	meta  AnnounceMetadata
	timer *time.Timer
}

// AnnounceQueue batches subagent-completion announces per session key so a
// burst of subagents finishing close together produces one message instead
// of one per subagent.
type AnnounceQueue struct {
	mu       sync.Mutex
	capacity int
	debounce time.Duration
	flush    AnnounceFlushFunc
	batches  map[string]*announceBatch
}

// NewAnnounceQueue creates a queue holding up to capacity pending items per
// session, flushing a session's batch debounceMs after its last enqueue.
func NewAnnounceQueue(capacity int, debounceMs int, flush AnnounceFlushFunc) *AnnounceQueue {
	return &AnnounceQueue{
		capacity: capacity,
		debounce: time.Duration(debounceMs) * time.Millisecond,
		flush:    flush,
		batches:  make(map[string]*announceBatch),
	}
}

// Enqueue adds item to sessionKey's batch, (re)starting the debounce timer.
func (q *AnnounceQueue) Enqueue(sessionKey string, item AnnounceQueueItem, meta AnnounceMetadata) {
	q.mu.Lock()
	defer q.mu.Unlock()

	b, ok := q.batches[sessionKey]
	if !ok {
		b = &announceBatch{meta: meta}
		q.batches[sessionKey] = b
	}
	b.meta = meta
	if len(b.items) < q.capacity {
		b.items = append(b.items, item)
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(q.debounce, func() { q.flushBatch(sessionKey) })
}

func (q *AnnounceQueue) flushBatch(sessionKey string) {
	q.mu.Lock()
	b, ok := q.batches[sessionKey]
	if ok {
		delete(q.batches, sessionKey)
	}
	q.mu.Unlock()

	if !ok || len(b.items) == 0 || q.flush == nil {
		return
	}
	q.flush(sessionKey, b.items, b.meta)
}

// FormatBatchedAnnounce renders a batch of subagent results as a single
// message for the parent agent, noting how many subagents are still running.
func FormatBatchedAnnounce(items []AnnounceQueueItem, remainingActive int) string {
	var b strings.Builder
	if len(items) == 1 {
		it := items[0]
		fmt.Fprintf(&b, "Subagent '%s' %s in %d iterations (%s).\n\nResult:\n%s",
			it.Label, it.Status, it.Iterations, it.Runtime.Round(time.Second), it.Result)
	} else {
		fmt.Fprintf(&b, "%d subagents completed:\n\n", len(items))
		for _, it := range items {
			fmt.Fprintf(&b, "### %s (%s, %d iterations, %s)\n%s\n\n",
				it.Label, it.Status, it.Iterations, it.Runtime.Round(time.Second), it.Result)
		}
	}
	if remainingActive > 0 {
		fmt.Fprintf(&b, "\n(%d subagent(s) still running)", remainingActive)
	}
	return b.String()
}
