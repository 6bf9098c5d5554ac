// Package platform implements the platform-property matching rules the
// scheduler uses to decide which workers may run which actions: a worker
// advertises a set of typed properties, an action requests a set of typed
// properties, and an action can only run on a worker whose properties
// satisfy every one of the action's requested properties.
package platform

import (
	"strconv"

	"github.com/marmos91/turbocache/pkg/remoteexec"
	"github.com/marmos91/turbocache/pkg/rpcerr"
)

// Type is the configured interpretation of a known property name.
type Type int

const (
	// TypeExact requires the worker's value to equal the requested value
	// verbatim.
	TypeExact Type = iota
	// TypeMinimum requires the worker's value to be a decimal integer no
	// smaller than the requested value; satisfying this subtracts the
	// requested amount from the worker's available resources for the
	// duration of the action (tracked by the scheduler, not this package).
	TypeMinimum
	// TypePriority is informational: any worker advertising the key
	// satisfies any requested value, but the key must still be present.
	TypePriority
)

// ValueKind distinguishes the four shapes a Value can take. Unknown exists
// so that properties parsed off the wire without a known-properties table
// (worker capability advertisements straight from a Platform proto, before
// a Manager has classified them) can still be compared for equality.
type ValueKind int

const (
	KindExact ValueKind = iota
	KindMinimum
	KindPriority
	KindUnknown
)

// Value is a single typed platform property value.
type Value struct {
	Kind ValueKind
	Str  string // set for KindExact, KindPriority, KindUnknown
	Num  uint64 // set for KindMinimum
}

// Exact, Minimum, Priority, and UnknownValue are Value constructors used by
// tests and by Manager.MakePropertyValue.
func Exact(s string) Value        { return Value{Kind: KindExact, Str: s} }
func Minimum(n uint64) Value      { return Value{Kind: KindMinimum, Num: n} }
func Priority(s string) Value     { return Value{Kind: KindPriority, Str: s} }
func UnknownValue(s string) Value { return Value{Kind: KindUnknown, Str: s} }

func (v Value) equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	if v.Kind == KindMinimum {
		return v.Num == other.Num
	}
	return v.Str == other.Str
}

// IsSatisfiedBy reports whether workerValue satisfies this (requested)
// value, per §4.3's rules: Exact requires equality; Minimum(requested) is
// satisfied by Minimum(worker) when worker >= requested; Priority is always
// satisfied once the key is present; Unknown is satisfied only by an equal
// Unknown value.
func (v Value) IsSatisfiedBy(workerValue Value) bool {
	if v.equal(workerValue) {
		return true
	}
	switch v.Kind {
	case KindMinimum:
		return workerValue.Kind == KindMinimum && workerValue.Num >= v.Num
	case KindPriority:
		return true
	default: // KindExact, KindUnknown
		return false
	}
}

// Properties is a named set of platform property values, attached to both
// actions (the requested properties) and workers (the advertised ones).
type Properties struct {
	values map[string]Value
}

// New builds Properties from an explicit map.
func New(values map[string]Value) Properties {
	if values == nil {
		values = map[string]Value{}
	}
	return Properties{values: values}
}

// FromPlatform converts a wire Platform message into Properties, as seen
// when a worker or client sends raw key/value pairs with no Manager
// available to classify them yet: every value becomes KindUnknown.
func FromPlatform(p *remoteexec.Platform) Properties {
	values := make(map[string]Value, len(p.Properties))
	for _, prop := range p.Properties {
		values[prop.Name] = UnknownValue(prop.Value)
	}
	return Properties{values: values}
}

// Get returns the value stored under key, if any.
func (p Properties) Get(key string) (Value, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Set stores v under key, overwriting any existing value. Properties wraps
// a map, so this mutates the same backing storage every copy of this
// Properties value shares — callers that need an independent copy should
// build one with Clone first.
func (p Properties) Set(key string, v Value) {
	p.values[key] = v
}

// Remove deletes key, if present.
func (p Properties) Remove(key string) {
	delete(p.values, key)
}

// Len reports how many properties are set.
func (p Properties) Len() int { return len(p.values) }

// Clone returns an independent copy of p.
func (p Properties) Clone() Properties {
	values := make(map[string]Value, len(p.values))
	for k, v := range p.values {
		values[k] = v
	}
	return Properties{values: values}
}

// Equal reports whether p and other hold exactly the same key/value pairs.
func (p Properties) Equal(other Properties) bool {
	if len(p.values) != len(other.values) {
		return false
	}
	for k, v := range p.values {
		ov, ok := other.values[k]
		if !ok || !v.equal(ov) {
			return false
		}
	}
	return true
}

// IsSatisfiedBy reports whether worker (a worker's advertised properties)
// satisfies every property p requests. p is typically the action's
// requested properties and worker the candidate worker's.
func (p Properties) IsSatisfiedBy(worker Properties) bool {
	for key, want := range p.values {
		have, ok := worker.values[key]
		if !ok || !want.IsSatisfiedBy(have) {
			return false
		}
	}
	return true
}

// Manager classifies raw key/value platform properties according to a
// configured table of known property names, the Go counterpart of
// native-link's PlatformPropertyManager.
type Manager struct {
	known map[string]Type
}

// NewManager builds a Manager from a name -> Type table.
func NewManager(known map[string]Type) *Manager {
	if known == nil {
		known = map[string]Type{}
	}
	return &Manager{known: known}
}

// KnownProperties returns the configured name -> Type table.
func (m *Manager) KnownProperties() map[string]Type {
	return m.known
}

// MakePropertyValue parses a raw string value for key into its typed Value,
// per the Type configured for key. Returns InvalidArgument if key isn't
// known, or if key is TypeMinimum and value doesn't parse as a decimal
// uint64.
func (m *Manager) MakePropertyValue(key, value string) (Value, error) {
	typ, ok := m.known[key]
	if !ok {
		return Value{}, rpcerr.InvalidArgument("platform: unknown property %q", key)
	}
	switch typ {
	case TypeMinimum:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return Value{}, rpcerr.InvalidArgument("platform: property %q value %q is not a non-negative integer: %v", key, value, err)
		}
		return Minimum(n), nil
	case TypeExact:
		return Exact(value), nil
	case TypePriority:
		return Priority(value), nil
	default:
		return Value{}, rpcerr.Internal("platform: property %q has unrecognized type", key)
	}
}

// MakeProperties classifies every property in p according to this Manager,
// the way an action's requested Platform gets converted into Properties
// before scheduling.
func (m *Manager) MakeProperties(p *remoteexec.Platform) (Properties, error) {
	values := make(map[string]Value, len(p.Properties))
	for _, prop := range p.Properties {
		v, err := m.MakePropertyValue(prop.Name, prop.Value)
		if err != nil {
			return Properties{}, err
		}
		values[prop.Name] = v
	}
	return Properties{values: values}, nil
}
