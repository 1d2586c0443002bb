package client

import (
	"sort"
	"sync"
	"time"

	"github.com/carelink/messenger/internal/model"
)

// ackDelay spaces read-receipt acknowledgements out so a burst of
// inbound messages does not produce a burst of acks. Tunable; not
// load-bearing for correctness.
const ackDelay = 1 * time.Second

// ReadAcker posts a read receipt for a message the local user has just
// received. Called off the hot path, after ackDelay.
type ReadAcker func(messageID string)

// Reconciler owns the in-memory message list for the active room.
// Messages are kept in arrival order; the externally visible order is
// a derived sort by CreatedAt (stable, so ties keep arrival order).
type Reconciler struct {
	mu      sync.Mutex
	self    string
	entries []model.ChatMessage
	index   map[string]int
	ack     ReadAcker
	delay   time.Duration
	timers  map[string]*time.Timer
	stopped bool
}

func NewReconciler(selfID string, ack ReadAcker) *Reconciler {
	return &Reconciler{
		self:   selfID,
		index:  make(map[string]int),
		timers: make(map[string]*time.Timer),
		ack:    ack,
		delay:  ackDelay,
	}
}

// Seed loads the initial history fetch. Seeded messages do not
// schedule read receipts; only live arrivals do.
func (r *Reconciler) Seed(messages []model.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range messages {
		r.insert(msg)
	}
}

// Add appends a live message. Redundant socket deliveries of the same
// id are dropped; returns false for duplicates. Foreign messages get a
// read receipt scheduled after the ack delay.
func (r *Reconciler) Add(msg model.ChatMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.insert(msg) {
		return false
	}

	if r.ack != nil && !r.stopped && msg.SenderID != r.self && !msg.IsReadBy(r.self) {
		id := msg.ID
		r.timers[id] = time.AfterFunc(r.delay, func() {
			r.mu.Lock()
			delete(r.timers, id)
			stopped := r.stopped
			r.mu.Unlock()
			if !stopped {
				r.ack(id)
			}
		})
	}
	return true
}

func (r *Reconciler) insert(msg model.ChatMessage) bool {
	if _, exists := r.index[msg.ID]; exists {
		return false
	}
	r.index[msg.ID] = len(r.entries)
	r.entries = append(r.entries, msg)
	return true
}

// MarkRead adds userID to the message's readBy set. Receipts for
// unknown message ids are dropped, and repeats are no-ops.
func (r *Reconciler) MarkRead(messageID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	at, ok := r.index[messageID]
	if !ok {
		return false
	}
	return r.entries[at].MarkReadBy(userID)
}

// Messages returns the derived view: a copy sorted ascending by
// CreatedAt. Callers never see (or mutate) the backing list.
func (r *Reconciler) Messages() []model.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	view := make([]model.ChatMessage, len(r.entries))
	copy(view, r.entries)
	sort.SliceStable(view, func(i, j int) bool {
		return view[i].CreatedAt.Before(view[j].CreatedAt)
	})
	return view
}

// Len reports the number of reconciled messages.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IsOwn classifies a sender id against the local user.
func (r *Reconciler) IsOwn(senderID string) bool {
	return senderID != "" && senderID == r.self
}

// Stop cancels pending read-receipt timers. Used on room switch and
// teardown so stale acks cannot fire after the list is discarded.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
}
