package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhbescrow/core/events"
	"nhbescrow/observability"
)

const eventHistoryLimit = 2048

// EventUpdate is a committed notification as delivered to stream subscribers.
type EventUpdate struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

func cloneEventUpdate(update EventUpdate) EventUpdate {
	cloned := update
	if update.Attributes != nil {
		cloned.Attributes = make(map[string]string, len(update.Attributes))
		for k, v := range update.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}

// stageUpdates renders batch and numbers it after the last committed
// sequence. The new high-water mark is written to the pending state so it
// commits together with the call that raised the events.
func (n *Node) stageUpdates(batch []events.Event) ([]EventUpdate, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	n.streamMu.Lock()
	seq := n.streamSeq
	n.streamMu.Unlock()

	now := time.Now().Unix()
	updates := make([]EventUpdate, 0, len(batch))
	for _, evt := range batch {
		rendered := events.Render(evt)
		if rendered == nil {
			continue
		}
		seq++
		updates = append(updates, EventUpdate{
			Sequence:   seq,
			Cursor:     strconv.FormatUint(seq, 10),
			Type:       rendered.Type,
			Attributes: rendered.Attributes,
			Timestamp:  now,
		})
	}
	if len(updates) == 0 {
		return nil, nil
	}
	if err := n.state.StreamSequencePut(seq); err != nil {
		return nil, fmt.Errorf("stage stream sequence: %w", err)
	}
	return updates, nil
}

// publish appends committed updates to the history and offers them to every
// subscriber. Sends happen under streamMu so a concurrent cancel cannot close
// a channel mid-send.
func (n *Node) publish(updates []EventUpdate) {
	if n == nil || len(updates) == 0 {
		return
	}
	metrics := observability.Events()

	n.streamMu.Lock()
	defer n.streamMu.Unlock()
	n.streamSeq = updates[len(updates)-1].Sequence
	for _, update := range updates {
		n.streamHistory = append(n.streamHistory, cloneEventUpdate(update))
	}
	if len(n.streamHistory) > eventHistoryLimit {
		excess := len(n.streamHistory) - eventHistoryLimit
		trimmed := make([]EventUpdate, eventHistoryLimit)
		copy(trimmed, n.streamHistory[excess:])
		n.streamHistory = trimmed
	}
	for _, update := range updates {
		metrics.RecordPublished(update.Type)
		for _, ch := range n.streamSubs {
			select {
			case ch <- cloneEventUpdate(update):
			default:
				metrics.RecordDropped()
			}
		}
	}
}

// Subscribe registers a subscriber for committed notifications after the
// supplied cursor. The returned backlog holds retained history newer than the
// cursor; cancel releases the subscription and closes the channel.
func (n *Node) Subscribe(ctx context.Context, cursor string) (<-chan EventUpdate, func(), []EventUpdate, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("node not initialised")
	}
	updates := make(chan EventUpdate, 64)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		since = parsed
	}

	n.streamMu.Lock()
	if n.streamSubs == nil {
		n.streamSubs = make(map[uint64]chan EventUpdate)
	}
	id := n.streamNextID
	n.streamNextID++
	n.streamSubs[id] = updates
	history := make([]EventUpdate, len(n.streamHistory))
	copy(history, n.streamHistory)
	n.streamMu.Unlock()

	backlog := make([]EventUpdate, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneEventUpdate(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.streamMu.Lock()
			sub, ok := n.streamSubs[id]
			if ok {
				delete(n.streamSubs, id)
				close(sub)
			}
			n.streamMu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}
