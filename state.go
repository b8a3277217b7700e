package pluginbus

import (
	"sync"
	"time"
)

// StateRegistry is the host-side shared rendezvous for request/response
// correlation, used when a context has no direct response_queue wired up.
// It must be safe for concurrent peek/consume (spec §4.4 item 3).
type StateRegistry struct {
	mu        sync.Mutex
	responses map[string]map[string]interface{}
	notify    map[string]chan struct{}
}

// NewStateRegistry creates an empty registry.
func NewStateRegistry() *StateRegistry {
	return &StateRegistry{
		responses: make(map[string]map[string]interface{}),
		notify:    make(map[string]chan struct{}),
	}
}

// Put deposits a response envelope for requestId, waking any Wait call
// blocked on it.
func (s *StateRegistry) Put(requestId string, response map[string]interface{}) {
	s.mu.Lock()
	s.responses[requestId] = response
	ch, ok := s.notify[requestId]
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Peek returns the response for requestId without consuming it.
func (s *StateRegistry) Peek(requestId string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.responses[requestId]
	return resp, ok
}

// Get consumes and returns the response for requestId, if present.
func (s *StateRegistry) Get(requestId string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.responses[requestId]
	if ok {
		delete(s.responses, requestId)
		delete(s.notify, requestId)
	}
	return resp, ok
}

// Wait blocks until a response for requestId arrives or timeout elapses,
// consuming it on success. This is the blocking convenience used only by
// LifecycleClient (spec [SUPPLEMENT] item 4) — every other client drives
// its own poll loop against Peek/Get.
func (s *StateRegistry) Wait(requestId string, timeout time.Duration) (map[string]interface{}, bool) {
	s.mu.Lock()
	if resp, ok := s.responses[requestId]; ok {
		delete(s.responses, requestId)
		delete(s.notify, requestId)
		s.mu.Unlock()
		return resp, true
	}
	ch, ok := s.notify[requestId]
	if !ok {
		ch = make(chan struct{})
		s.notify[requestId] = ch
	}
	s.mu.Unlock()

	select {
	case <-ch:
		return s.Get(requestId)
	case <-time.After(timeout):
		// Orphan cleanup: the response may have landed just as the timer
		// fired. One last check before giving up.
		return s.Get(requestId)
	}
}

// Discard drops any stored response/waiter for requestId without
// returning it. Used to keep the pending map and the registry from
// diverging once a response has been claimed by the other consumer.
func (s *StateRegistry) Discard(requestId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.responses, requestId)
	delete(s.notify, requestId)
}
