package store

import "sync"

const sessionsTopic = "sessions"

func sessionTopic(id string) string  { return "session:" + id }
func messagesTopic(id string) string { return "messages:" + id }

// hub fans change signals out to the subscriptions registered on a topic.
// Signals carry no payload; subscribers re-read committed state.
type hub struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string]map[uint64]func()
}

func newHub() *hub {
	return &hub{topics: make(map[string]map[uint64]func())}
}

// register adds fn to topic and returns a function that removes it.
func (h *hub) register(topic string, fn func()) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[uint64]func())
		h.topics[topic] = subs
	}
	subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.topics[topic], id)
			if len(h.topics[topic]) == 0 {
				delete(h.topics, topic)
			}
		})
	}
}

// publish signals every subscriber of the given topics. Subscriber functions
// must not block.
func (h *hub) publish(topics ...string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, topic := range topics {
		for _, fn := range h.topics[topic] {
			fn()
		}
	}
}

// count returns the number of registrations on a topic.
func (h *hub) count(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
