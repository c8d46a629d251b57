package pake

import (
	"sync"
	"time"

	"github.com/lightldap/lightldap/internal/common"
)

// ExchangeState is the lifecycle state of a single protocol run.
type ExchangeState int

const (
	// StateStarted: the server has processed the client's first message.
	StateStarted ExchangeState = iota
	// StateAwaitingClientFinish: the server's reply is out, waiting for the
	// client's finish message.
	StateAwaitingClientFinish
	// StateSucceeded is terminal.
	StateSucceeded
	// StateFailed is terminal.
	StateFailed
	// StateExpired is terminal: the time box elapsed before the finish.
	StateExpired
)

type exchangeKind int

const (
	kindRegister exchangeKind = iota
	kindLogin
)

// Exchange is one in-flight registration or login run. It is single-use,
// time-boxed, scoped to one request flow, and discarded on any terminal
// state.
type Exchange struct {
	ID       string
	Username string
	UserID   string

	kind       exchangeKind
	state      ExchangeState
	decoy      bool
	suiteState any
	expiresAt  time.Time
}

// State returns the current lifecycle state.
func (e *Exchange) State() ExchangeState { return e.state }

// expired reports whether the time box has elapsed.
func (e *Exchange) expired(now time.Time) bool { return now.After(e.expiresAt) }

// exchangeTable holds in-flight exchanges keyed by their random id. An
// exchange is removed on take, so a finish message can consume it only once.
type exchangeTable struct {
	mu sync.Mutex
	m  map[string]*Exchange
}

func newExchangeTable() *exchangeTable {
	return &exchangeTable{m: make(map[string]*Exchange)}
}

func (t *exchangeTable) put(e *Exchange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[e.ID] = e
}

// take removes and returns the exchange. An unknown or already-consumed id
// returns common.ErrInvalidCredentials so callers cannot probe exchange ids.
func (t *exchangeTable) take(id string) (*Exchange, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.m[id]
	if !ok {
		return nil, common.ErrInvalidCredentials
	}
	delete(t.m, id)
	return e, nil
}

// sweep drops expired exchanges; the authenticator calls it opportunistically.
func (t *exchangeTable) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.m {
		if e.expired(now) {
			delete(t.m, id)
		}
	}
}
