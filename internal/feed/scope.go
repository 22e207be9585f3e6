package feed

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ErrInvalidScope is returned for a scope missing the value its type needs.
var ErrInvalidScope = errors.New("invalid scope")

// Validate checks that the scope names a known type and carries its value.
// An empty type is treated as latest.
func (s Scope) Validate() error {
	switch s.Type {
	case "", ScopeLatest:
		return nil
	case ScopeBranch:
		if s.Branch == "" {
			return fmt.Errorf("%w: branch scope needs a branch", ErrInvalidScope)
		}
	case ScopePR:
		if s.PR <= 0 {
			return fmt.Errorf("%w: pr scope needs a positive pr number", ErrInvalidScope)
		}
	case ScopeCommit:
		if s.Commit == "" {
			return fmt.Errorf("%w: commit scope needs a commit", ErrInvalidScope)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidScope, s.Type)
	}
	return nil
}

// Normalize drops the fields the scope's type does not use.
func (s Scope) Normalize() Scope {
	switch s.Type {
	case ScopeBranch:
		return Scope{Type: ScopeBranch, Branch: s.Branch}
	case ScopePR:
		return Scope{Type: ScopePR, PR: s.PR}
	case ScopeCommit:
		return Scope{Type: ScopeCommit, Commit: s.Commit}
	default:
		return LatestScope()
	}
}

// Values encodes the scope as query parameters.
func (s Scope) Values() url.Values {
	s = s.Normalize()
	v := url.Values{}
	v.Set("type", s.Type)
	switch s.Type {
	case ScopeBranch:
		v.Set("branch", s.Branch)
	case ScopePR:
		v.Set("pr", strconv.Itoa(s.PR))
	case ScopeCommit:
		v.Set("commit", s.Commit)
	}
	return v
}

// ParseScope reads a scope from query parameters and validates it.
func ParseScope(v url.Values) (Scope, error) {
	s := Scope{
		Type:   v.Get("type"),
		Branch: v.Get("branch"),
		Commit: v.Get("commit"),
	}
	if raw := v.Get("pr"); raw != "" {
		pr, err := strconv.Atoi(raw)
		if err != nil {
			return Scope{}, fmt.Errorf("%w: pr %q is not a number", ErrInvalidScope, raw)
		}
		s.PR = pr
	}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s.Normalize(), nil
}
