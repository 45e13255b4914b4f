package loom

// factory.go mirrors TheBitDrifter-warehouse's factory.go: a single
// package-level Factory value exposing construction entry points,
// grouped under one namespace rather than scattered free functions.
// Component registration already lives on RegisterComponent (it must be
// a free generic function so callers can bind T without first holding a
// factory value), so Factory here covers World and query construction.

// factory is the receiver behind the package-level Factory value.
type factory struct{}

// Factory is the global entry point for constructing Worlds and queries.
var Factory factory

// NewWorld constructs a new World with the given options.
func (f factory) NewWorld(opts ...WorldOption) *World {
	return NewWorld(opts...)
}

// NewQuery begins a query against w.
func (f factory) NewQuery(w *World) *QueryBuilder {
	return w.Query()
}
