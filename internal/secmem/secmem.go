// Package secmem holds the viewer auth token.
package secmem

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/screenhost/internal/logging"
)

var log = logging.L("secmem")

const redacted = "[REDACTED]"

// Token is a shared secret that viewers present as a bearer token. It never
// prints its value and can be wiped on shutdown. Wiping is best effort: the
// GC may already have copied the backing array.
type Token struct {
	mu         sync.Mutex
	data       []byte
	zeroed     atomic.Bool
	warnedOnce atomic.Bool
}

// NewToken copies s into a new Token.
func NewToken(s string) *Token {
	b := make([]byte, len(s))
	copy(b, s)
	return &Token{data: b}
}

// Equal reports whether candidate matches the token in constant time.
// A nil, empty or wiped token matches nothing.
func (t *Token) Equal(candidate string) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.data) == 0 {
		if t.zeroed.Load() && t.warnedOnce.CompareAndSwap(false, true) {
			log.Warn("auth token compared after it was wiped")
		}
		return false
	}
	return subtle.ConstantTimeCompare(t.data, []byte(candidate)) == 1
}

// Reveal returns the plaintext value, e.g. to build an Authorization header.
// It returns "" for a nil or wiped token.
func (t *Token) Reveal() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.data)
}

// IsZeroed reports whether Zero has been called.
func (t *Token) IsZeroed() bool {
	if t == nil {
		return false
	}
	return t.zeroed.Load()
}

func (t *Token) String() string   { return redacted }
func (t *Token) GoString() string { return redacted }

// Format makes every verb print the redacted form.
func (t *Token) Format(f fmt.State, verb rune) {
	fmt.Fprint(f, redacted)
}

func (t *Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

func (t *Token) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// UnmarshalJSON refuses to populate a token from JSON.
func (t *Token) UnmarshalJSON(data []byte) error {
	return fmt.Errorf("secmem: cannot deserialize into Token")
}

// Zero overwrites the token in place.
func (t *Token) Zero() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.data)
	t.data = nil
	t.zeroed.Store(true)
}
