package table

import "sync"

// Change records one physical row mutation of a write transaction, with
// the row's post-mutation, policy-filtered projection.
type Change struct {
	Mode string `json:"mode"` // insert, update or delete
	Path string `json:"path"` // graph path, e.g. "posts.comments.0"
	Row  Item   `json:"row"`
}

// ChangeSet is the result of one top-level write call: every change in
// its transaction under a single id, plus the shaped written item(s).
type ChangeSet struct {
	ChangeID string   `json:"changeId"`
	Item     Item     `json:"item,omitempty"`
	Items    []Item   `json:"items,omitempty"`
	Changes  []Change `json:"changes"`
}

// Emitter broadcasts one ChangeSet per committed write transaction to
// in-process subscribers. Subscribers re-check visibility under their
// own context before forwarding rows; a slow subscriber loses events
// rather than blocking writes.
type Emitter struct {
	mu   sync.RWMutex
	subs map[int]chan *ChangeSet
	next int
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[int]chan *ChangeSet)}
}

// Subscribe registers a subscriber. The returned cancel func must be
// called to release it.
func (e *Emitter) Subscribe() (<-chan *ChangeSet, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	ch := make(chan *ChangeSet, 16)
	e.subs[id] = ch
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
}

// Emit delivers cs to every subscriber without blocking.
func (e *Emitter) Emit(cs *ChangeSet) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- cs:
		default:
		}
	}
}
