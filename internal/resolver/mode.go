package resolver

import (
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
)

const (
	overrideNone int32 = iota
	overrideOffline
	overrideLive
)

// Mode selects offline or live resolution. The base value comes from
// configuration; an override set at runtime takes precedence until cleared.
// Mode is safe for concurrent use.
type Mode struct {
	base     bool
	override atomic.Int32
}

// NewMode returns a mode whose base is offline when offline is true.
func NewMode(offline bool) *Mode {
	return &Mode{base: offline}
}

// Offline reports whether live providers must not be called.
func (m *Mode) Offline() bool {
	switch m.override.Load() {
	case overrideOffline:
		return true
	case overrideLive:
		return false
	default:
		return m.base
	}
}

// Force overrides the base mode.
func (m *Mode) Force(offline bool) {
	if offline {
		m.override.Store(overrideOffline)
		return
	}
	m.override.Store(overrideLive)
}

// ClearOverride returns to the base mode.
func (m *Mode) ClearOverride() {
	m.override.Store(overrideNone)
}

// String returns "offline" or "live".
func (m *Mode) String() string {
	if m.Offline() {
		return "offline"
	}
	return "live"
}

// ApplyOverride applies an override given as "offline", "live", or empty
// for none.
func (m *Mode) ApplyOverride(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		m.ClearOverride()
	case "offline", "synthetic":
		m.Force(true)
	case "live":
		m.Force(false)
	default:
		return eris.Errorf("resolver: invalid mode override %q", value)
	}
	return nil
}
