package session

// Mode is the async-capability state of a session. Disabled is a transient
// latch set by explicit checks and cleared by flushes; Forced is a sticky
// override that wins over everything else.
type Mode struct {
	Disabled bool
	Forced   bool
}

// Preference is an actor's preferred edit mode.
type Preference int

const (
	PreferenceUnset Preference = iota
	PreferenceAsync
	PreferenceSync
)

// PreferenceOf converts an optional stored flag.
func PreferenceOf(async, ok bool) Preference {
	switch {
	case !ok:
		return PreferenceUnset
	case async:
		return PreferenceAsync
	default:
		return PreferenceSync
	}
}

func (p Preference) allowsAsync() bool {
	return p != PreferenceSync
}

// Explicit evaluates the operation-aware check. allowed is the allow-list
// verdict for the operation kind. The returned Mode caches the outcome for
// the implicit checks that follow.
func Explicit(m Mode, allowed bool, pref Preference) (bool, Mode) {
	result := m.Forced || (allowed && pref.allowsAsync())
	m.Disabled = !result
	return result, m
}

// Implicit evaluates the per-write check without consulting the allow-list.
func Implicit(m Mode, pref Preference) bool {
	return m.Forced || (pref.allowsAsync() && !m.Disabled)
}

// Flushed returns the mode after a flush. Only a flush that drained an
// active backlog re-enables async.
func Flushed(m Mode, hadBacklog bool) Mode {
	if hadBacklog {
		m.Disabled = false
	}
	return m
}
