package signet

import (
	"sync"
	"time"
)

// Status is the client's view of its sign-in state
type Status string

const (
	StatusSignedOut Status = "signed_out"
	StatusSigningIn Status = "signing_in"
	StatusSignedIn  Status = "signed_in"
	StatusError     Status = "error"
)

// State is a snapshot of the client's auth state. It mirrors the server on a
// best-effort basis; only a server check is authoritative.
type State struct {
	Status    Status
	Address   string
	SessionID string
	ExpiresAt time.Time
	Err       error
}

type subscriber struct {
	id int
	fn func(State)
}

// AuthState holds the current State and fans changes out to subscribers.
// Subscribers run synchronously on the goroutine that changed the state.
type AuthState struct {
	mu     sync.Mutex
	state  State
	subs   []subscriber
	nextID int
}

func NewAuthState() *AuthState {
	return &AuthState{state: State{Status: StatusSignedOut}}
}

// Current returns the latest snapshot
func (a *AuthState) Current() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Subscribe registers fn for every later change and returns a func that
// removes it. Calling the returned func more than once is harmless.
func (a *AuthState) Subscribe(fn func(State)) (unsubscribe func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.subs = append(a.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { a.remove(id) })
	}
}

func (a *AuthState) remove(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, s := range a.subs {
		if s.id == id {
			a.subs = append(a.subs[:i:i], a.subs[i+1:]...)
			return
		}
	}
}

func (a *AuthState) set(s State) {
	a.mu.Lock()
	a.state = s
	subs := make([]subscriber, len(a.subs))
	copy(subs, a.subs)
	a.mu.Unlock()

	for _, sub := range subs {
		sub.fn(s)
	}
}
