// Package publish fans step-level events out to live subscribers, one
// channel per story.
package publish

import (
	"log/slog"
	"sync"

	"github.com/dotcommander/loom/internal/core"
)

const defaultBuffer = 64

// Broker is an in-process publish/subscribe hub keyed by story. Publishing
// never blocks: a subscriber whose buffer is full loses the event, because
// the execution path must not stall on a slow reader. Delivery to a healthy
// subscriber is in publish order.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[chan core.Event]struct{}
	buffer int
	logger *slog.Logger
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		subs:   make(map[string]map[chan core.Event]struct{}),
		buffer: defaultBuffer,
		logger: logger.With("component", "publish"),
	}
}

// Subscribe registers a listener for one story's events. The returned cancel
// function must be called exactly once; after it returns the channel is
// closed.
func (b *Broker) Subscribe(storyID string) (<-chan core.Event, func()) {
	ch := make(chan core.Event, b.buffer)

	b.mu.Lock()
	if b.subs[storyID] == nil {
		b.subs[storyID] = make(map[chan core.Event]struct{})
	}
	b.subs[storyID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[storyID], ch)
			if len(b.subs[storyID]) == 0 {
				delete(b.subs, storyID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber of storyID without blocking.
func (b *Broker) Publish(storyID string, e core.Event) {
	e.StoryID = storyID

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[storyID] {
		select {
		case ch <- e:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				"story_id", storyID, "type", e.Type)
		}
	}
}
