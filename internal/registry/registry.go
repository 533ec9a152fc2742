// Package registry tracks connected participants and addresses outbound
// messages to them. It owns no transport detail: a Participant is
// anything that can accept a framed message and report its own
// identity, so internal/transport supplies the TCP-backed
// implementation while internal/matcher only ever sees an ID.
package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ID identifies a participant across its connection lifetime. Orders
// store a Trader ID rather than a Participant reference — a weak
// reference — so a departed participant is simply a miss on lookup,
// never a dangling pointer.
type ID uuid.UUID

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// NewID mints a fresh participant handle.
func NewID() ID {
	return ID(uuid.New())
}

// Participant is the minimal capability the registry needs from a
// connection: somewhere to write bytes, and a stable identity.
type Participant interface {
	ID() ID
	Send(frame []byte) error
}

// Registry holds two disjoint-by-role sets: traders, who submit and
// cancel orders, and observers, who only receive depth-of-book
// broadcasts. Membership begins at Add and ends at Remove; the
// registry owns no connection lifecycle beyond that.
type Registry struct {
	mu        sync.RWMutex
	traders   map[ID]Participant
	observers map[ID]Participant
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		traders:   make(map[ID]Participant),
		observers: make(map[ID]Participant),
	}
}

func (r *Registry) AddTrader(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traders[p.ID()] = p
}

// RemoveTrader removes the trader from the registry. Unknown IDs are a
// no-op — disconnection races must never crash the engine.
func (r *Registry) RemoveTrader(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.traders, id)
}

func (r *Registry) AddObserver(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[p.ID()] = p
}

func (r *Registry) RemoveObserver(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observers, id)
}

// Trader looks up a currently-registered trader handle.
func (r *Registry) Trader(id ID) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.traders[id]
	return p, ok
}

// SendToTrader delivers a single frame to one trader. A missing trader
// is not an error at this layer — the caller (the matcher) has already
// decided who it thinks it is talking to.
func (r *Registry) SendToTrader(id ID, frame []byte) {
	r.mu.RLock()
	p, ok := r.traders[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := p.Send(frame); err != nil {
		log.Error().Stringer("trader", id).Err(err).Msg("delivery failed, evicting trader")
		r.RemoveTrader(id)
	}
}

// SendToObserver delivers a single frame to one observer. Unknown IDs
// are silently dropped, mirroring SendToTrader.
func (r *Registry) SendToObserver(id ID, frame []byte) {
	r.mu.RLock()
	p, ok := r.observers[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := p.Send(frame); err != nil {
		log.Error().Stringer("observer", id).Err(err).Msg("delivery failed, evicting observer")
		r.RemoveObserver(id)
	}
}

