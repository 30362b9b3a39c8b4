package golestan

import "sync"

// Tokens is one complete generation of server-issued session state. A
// request is only valid when built from the generation produced by the
// immediately preceding response.
type Tokens struct {
	ViewState          string
	ViewStateGenerator string
	EventValidation    string
	// Ticket proves session continuity and rides along on every
	// request after login.
	Ticket string
	// Seq is bumped once per outgoing request; the server refuses
	// requests presenting a stale value.
	Seq int
	// Cookies is the full cookie set for the next request. Mixing
	// cookies from two generations fails silently on the portal, so
	// the set is always replaced wholesale.
	Cookies map[string]string
}

func (t Tokens) clone() Tokens {
	next := t
	if t.Cookies != nil {
		next.Cookies = make(map[string]string, len(t.Cookies))
		for name, value := range t.Cookies {
			next.Cookies[name] = value
		}
	}
	return next
}

// replaceCookies picks the cookie set for the next generation. A
// response that issues cookies defines the entire set; one that issues
// none leaves the current set in place.
func replaceCookies(current, issued map[string]string) map[string]string {
	if len(issued) == 0 {
		return current
	}
	return issued
}

// TokenStore holds the current token generation for one portal
// session. Generations swap atomically and whole; there is no partial
// update, so a reader can never observe a blend of two generations.
// A store lives for exactly one fetch and is never shared between
// concurrent sessions.
type TokenStore struct {
	mu  sync.Mutex
	cur Tokens
}

func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

func (s *TokenStore) Current() Tokens {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.clone()
}

func (s *TokenStore) Replace(next Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = next.clone()
}
