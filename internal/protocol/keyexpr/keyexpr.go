// Package keyexpr implements the validated key-expression value type used to
// address resources on the pub/sub network.
//
// A key expression is a '/'-separated list of chunks. A chunk is either a
// literal, the single-chunk wildcard "*", the multi-chunk wildcard "**", or a
// literal containing one or more "$*" sub-chunk wildcards.
package keyexpr

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalid = errors.New("keyexpr: invalid key expression")

// KeyExpr is an immutable, validated key expression. The zero value is not a
// valid expression and is reported by IsZero. Values compare by content.
type KeyExpr struct {
	s string
}

// New validates s and returns it as a KeyExpr.
func New(s string) (KeyExpr, error) {
	if err := Validate(s); err != nil {
		return KeyExpr{}, err
	}
	return KeyExpr{s: s}, nil
}

// MustNew is New for literals known to be valid. It panics otherwise.
func MustNew(s string) KeyExpr {
	k, err := New(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Validate reports why s is not a canonical key expression, or nil.
func Validate(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalid)
	}
	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return fmt.Errorf("%w: %q has a leading or trailing '/'", ErrInvalid, s)
	}
	if i := strings.IndexAny(s, "#?"); i >= 0 {
		return fmt.Errorf("%w: %q contains forbidden character %q", ErrInvalid, s, s[i])
	}
	prevDoubleWild := false
	for i, chunk := range strings.Split(s, "/") {
		if err := validateChunk(chunk); err != nil {
			return fmt.Errorf("%w: %q chunk %d: %v", ErrInvalid, s, i, err)
		}
		if chunk == "**" && prevDoubleWild {
			return fmt.Errorf("%w: %q repeats '**'", ErrInvalid, s)
		}
		prevDoubleWild = chunk == "**"
	}
	return nil
}

func validateChunk(chunk string) error {
	switch chunk {
	case "":
		return errors.New("empty chunk")
	case "*", "**":
		return nil
	case "$*":
		return errors.New("lone '$*' must be written '*'")
	}
	for i := 0; i < len(chunk); i++ {
		switch chunk[i] {
		case '*':
			if i == 0 || chunk[i-1] != '$' {
				return errors.New("'*' must be a whole chunk or follow '$'")
			}
		case '$':
			if i+1 >= len(chunk) || chunk[i+1] != '*' {
				return errors.New("'$' must be followed by '*'")
			}
			if i+2 < len(chunk) && chunk[i+2] == '$' {
				return errors.New("consecutive '$*'")
			}
		}
	}
	return nil
}

func (k KeyExpr) String() string {
	return k.s
}

func (k KeyExpr) IsZero() bool {
	return k.s == ""
}

// IsWild reports whether k contains any wildcard.
func (k KeyExpr) IsWild() bool {
	return strings.Contains(k.s, "*")
}

// Join appends suffix chunks to k and validates the result.
func (k KeyExpr) Join(suffix string) (KeyExpr, error) {
	if k.IsZero() {
		return New(suffix)
	}
	return New(k.s + "/" + suffix)
}

func (k KeyExpr) MarshalText() ([]byte, error) {
	if k.IsZero() {
		return nil, fmt.Errorf("%w: empty", ErrInvalid)
	}
	return []byte(k.s), nil
}

func (k *KeyExpr) UnmarshalText(text []byte) error {
	v, err := New(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
