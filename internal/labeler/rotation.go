package labeler

import "github.com/tphakala/carnet-go/internal/errors"

// ErrPoolExhausted is returned when every token in the pool has reported
// quota exhaustion.
var ErrPoolExhausted = errors.NewStd("credential pool exhausted")

// Rotation is an ordered token pool with a cursor. The cursor only moves
// forward and never wraps.
type Rotation struct {
	Tokens []string
	Index  int
}

// NewRotation returns a rotation positioned at the first token.
func NewRotation(tokens []string) *Rotation {
	return &Rotation{Tokens: tokens}
}

// Current returns the token under the cursor. ok is false for an empty
// pool.
func (r *Rotation) Current() (token string, ok bool) {
	if r.Index < 0 || r.Index >= len(r.Tokens) {
		return "", false
	}
	return r.Tokens[r.Index], true
}

// Advance moves to the next token. It returns false, leaving the cursor on
// the last token, when there is none.
func (r *Rotation) Advance() bool {
	if r.Index+1 >= len(r.Tokens) {
		return false
	}
	r.Index++
	return true
}

// Remaining is the number of tokens after the cursor.
func (r *Rotation) Remaining() int {
	return max(len(r.Tokens)-r.Index-1, 0)
}
