package live

import (
	"context"
	"sync"
)

// Conn is a live client connection the bus can push payloads to.
// Implemented by WSConn; tests use in-memory fakes.
type Conn interface {
	Send(ctx context.Context, payload any) error
	Close(reason string) error
}

// Subscription binds one recipient to their currently open connection and
// tracks which conversation they are viewing. The send mutex serializes
// deliveries so concurrent publishes for one recipient never reorder or
// interleave on the wire.
type Subscription struct {
	RecipientID string

	sendMu sync.Mutex
	conn   Conn

	mu    sync.Mutex
	focus string
}

func (s *Subscription) Focus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focus
}

func (s *Subscription) setFocus(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focus = conversationID
}

// send delivers one payload, holding the send lock for the duration.
func (s *Subscription) send(ctx context.Context, payload any) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.conn.Send(ctx, payload)
}

// Registry maps each recipient to at most one open subscription. A newer
// connection supersedes an older one; the replaced handle is closed.
type Registry struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*Subscription)}
}

// Open registers conn for the recipient, closing and replacing any prior
// connection.
func (r *Registry) Open(recipientID string, conn Conn) *Subscription {
	r.mu.Lock()
	prior := r.subs[recipientID]
	sub := &Subscription{RecipientID: recipientID, conn: conn}
	r.subs[recipientID] = sub
	r.mu.Unlock()

	if prior != nil {
		_ = prior.conn.Close("superseded by newer connection")
	}
	return sub
}

// Close removes the recipient's subscription only if it still holds conn,
// so a stale close from a superseded connection cannot evict its
// replacement.
func (r *Registry) Close(recipientID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[recipientID]
	if !ok || sub.conn != conn {
		return
	}
	delete(r.subs, recipientID)
}

// Lookup returns the recipient's open subscription, or nil.
func (r *Registry) Lookup(recipientID string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[recipientID]
}

// SetFocus records which conversation the recipient is viewing. A no-op if
// the recipient has no open subscription.
func (r *Registry) SetFocus(recipientID, conversationID string) {
	r.mu.Lock()
	sub := r.subs[recipientID]
	r.mu.Unlock()

	if sub != nil {
		sub.setFocus(conversationID)
	}
}
