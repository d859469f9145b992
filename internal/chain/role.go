package chain

import "strings"

// Role names the processor occupying a slot. Slot 0 always holds a source
// role; every later slot holds an effect role.
type Role string

// Source roles
const (
	Sine     Role = "sine"
	Saw      Role = "saw"
	Square   Role = "square"
	Triangle Role = "triangle"
	Silence  Role = "silence"
)

// Effect roles
const (
	Thru  Role = "thru" // passthrough
	Gain  Role = "gain"
	Quiet Role = "quiet"
	Left  Role = "left"
	Right Role = "right"
	Mono  Role = "mono"
	Swap  Role = "swap"
)

const (
	// DefaultSource replaces an unknown or missing source role.
	DefaultSource = Sine
	// Passthrough replaces an unknown effect role.
	Passthrough = Thru
	// MinSlots is the smallest chain: one source and one effect.
	MinSlots = 2
	// MaxSlots is the largest chain; larger requests are lowered to it.
	MaxSlots = 64
)

var sourceRoles = map[Role]struct{}{
	Sine: {}, Saw: {}, Square: {}, Triangle: {}, Silence: {},
}

var effectRoles = map[Role]struct{}{
	Thru: {}, Gain: {}, Quiet: {}, Left: {}, Right: {}, Mono: {}, Swap: {},
}

// IsSource reports whether r is a known source role.
func IsSource(r Role) bool {
	_, ok := sourceRoles[r]
	return ok
}

// IsEffect reports whether r is a known effect role.
func IsEffect(r Role) bool {
	_, ok := effectRoles[r]
	return ok
}

// SourceRole canonicalizes name as a slot-0 role.
func SourceRole(name string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(name)))
	if IsSource(r) {
		return r
	}
	return DefaultSource
}

// EffectRole canonicalizes name as an effect role.
func EffectRole(name string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(name)))
	if IsEffect(r) {
		return r
	}
	return Passthrough
}

// RoleAt canonicalizes name for the given slot index.
func RoleAt(index int, name string) Role {
	if index == 0 {
		return SourceRole(name)
	}
	return EffectRole(name)
}

// DefaultRoles returns the roles of a freshly created chain with n slots.
func DefaultRoles(n int) []Role {
	n = max(MinSlots, min(n, MaxSlots))
	roles := make([]Role, n)
	roles[0] = DefaultSource
	for i := 1; i < n; i++ {
		roles[i] = Passthrough
	}
	return roles
}
