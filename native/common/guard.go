package common

import (
	"errors"

	"kleolend/crypto"
)

var (
	ErrModulePaused = errors.New("module paused")
	// ErrUnauthorized marks mutation attempts from callers outside a
	// module's authorized set.
	ErrUnauthorized = errors.New("unauthorized caller")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// CallerSet holds the module addresses allowed to invoke restricted entry
// points. Ledger modules register their peers at wiring time and check every
// mutating call against the set.
type CallerSet struct {
	allowed []crypto.Address
}

// Allow registers an address. Zero addresses are ignored.
func (s *CallerSet) Allow(addr crypto.Address) {
	if s == nil || addr.IsZero() {
		return
	}
	s.allowed = append(s.allowed, addr)
}

// Authorize returns ErrUnauthorized unless caller is in the set.
func (s *CallerSet) Authorize(caller crypto.Address) error {
	if s == nil {
		return ErrUnauthorized
	}
	for _, addr := range s.allowed {
		if addr.Equal(caller) {
			return nil
		}
	}
	return ErrUnauthorized
}
