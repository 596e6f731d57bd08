// Package registry maps cabinet models to the handlers that serve them.
//
// Bindings are collected by a Builder and validated once by Build. The
// resulting Registry is immutable and safe for concurrent lookups without
// locking.
package registry

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/gear6io/oxygen/pkg/errors"
)

// VersionRange is the half-open interval [Min, Max) of model versions.
type VersionRange struct {
	Min int64
	Max int64
}

// AllVersions matches every version, including models without one.
var AllVersions = VersionRange{Min: 0, Max: math.MaxInt64}

// Versions returns the range [min, max).
func Versions(min, max int64) VersionRange {
	return VersionRange{Min: min, Max: max}
}

// From returns the range of every version from min onwards.
func From(min int64) VersionRange {
	return VersionRange{Min: min, Max: math.MaxInt64}
}

func (r VersionRange) Contains(v int64) bool {
	return r.Min <= v && v < r.Max
}

func (r VersionRange) width() uint64 {
	return uint64(r.Max - r.Min)
}

func (r VersionRange) overlaps(o VersionRange) bool {
	return r.Min < o.Max && o.Min < r.Max
}

func (r VersionRange) encloses(o VersionRange) bool {
	return r.Min <= o.Min && o.Max <= r.Max
}

func (r VersionRange) String() string {
	max := strconv.FormatInt(r.Max, 10)
	if r.Max == math.MaxInt64 {
		max = "∞"
	}
	return fmt.Sprintf("[%d, %s)", r.Min, max)
}

// Binding ties a game code and version range to a handler.
type Binding[H any] struct {
	Game     string
	Versions VersionRange
	Handler  H
}

// Name describes the handler for listings.
func (b Binding[H]) Name() string {
	if named, ok := any(b.Handler).(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", b.Handler)
}

// Builder collects bindings before validation.
type Builder[H any] struct {
	bindings    []Binding[H]
	fallback    H
	hasFallback bool
}

// NewBuilder creates an empty builder.
func NewBuilder[H any]() *Builder[H] {
	return &Builder[H]{}
}

// Register binds game within versions to handler.
func (b *Builder[H]) Register(game string, versions VersionRange, handler H) *Builder[H] {
	b.bindings = append(b.bindings, Binding[H]{Game: game, Versions: versions, Handler: handler})
	return b
}

// Fallback sets the handler used for games without a binding.
func (b *Builder[H]) Fallback(handler H) *Builder[H] {
	b.fallback = handler
	b.hasFallback = true
	return b
}

// Build validates the bindings. Within one game, ranges must either be
// disjoint or strictly nested; identical or partially overlapping ranges
// are ErrAmbiguousRegistration.
func (b *Builder[H]) Build() (*Registry[H], error) {
	games := make(map[string][]Binding[H])
	for _, binding := range b.bindings {
		if binding.Game == "" {
			return nil, errors.New(ErrInvalidRange, "binding without game code", nil)
		}
		if binding.Versions.Min < 0 || binding.Versions.Min >= binding.Versions.Max {
			return nil, errors.New(ErrInvalidRange, "empty or negative version range", nil).
				AddContext("game", binding.Game).
				AddContext("range", binding.Versions.String())
		}

		for _, other := range games[binding.Game] {
			a, o := binding.Versions, other.Versions
			if !a.overlaps(o) {
				continue
			}
			if a != o && (a.encloses(o) || o.encloses(a)) {
				continue
			}
			return nil, errors.New(ErrAmbiguousRegistration, "overlapping version ranges", nil).
				AddContext("game", binding.Game).
				AddContext("range", a.String()).
				AddContext("conflicts_with", o.String())
		}
		games[binding.Game] = append(games[binding.Game], binding)
	}

	// narrowest first so that the first match is the most specific
	for _, list := range games {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Versions.width() != list[j].Versions.width() {
				return list[i].Versions.width() < list[j].Versions.width()
			}
			return list[i].Versions.Min < list[j].Versions.Min
		})
	}

	r := &Registry[H]{games: games}
	if b.hasFallback {
		fallback := b.fallback
		r.fallback = &fallback
	}
	return r, nil
}

// Registry is the validated, read-only binding table.
type Registry[H any] struct {
	games    map[string][]Binding[H]
	fallback *H
}

// Resolve returns the handler of the narrowest range of game containing
// version.
func (r *Registry[H]) Resolve(game string, version int64) (H, error) {
	binding, err := r.Lookup(game, version)
	if err != nil {
		var zero H
		return zero, err
	}
	return binding.Handler, nil
}

// Lookup is Resolve returning the whole binding.
func (r *Registry[H]) Lookup(game string, version int64) (Binding[H], error) {
	for _, binding := range r.games[game] {
		if binding.Versions.Contains(version) {
			return binding, nil
		}
	}
	return Binding[H]{}, errors.New(ErrNotFound, "no handler registered", nil).
		AddContext("game", game).
		AddContext("version", strconv.FormatInt(version, 10))
}

// ResolveModel resolves a parsed model. Models without a version resolve
// as version zero.
func (r *Registry[H]) ResolveModel(m Model) (H, error) {
	return r.Resolve(m.Game, m.Version)
}

// Fallback returns the handler for unregistered games.
func (r *Registry[H]) Fallback() (H, bool) {
	if r.fallback == nil {
		var zero H
		return zero, false
	}
	return *r.fallback, true
}

// Bindings lists every binding ordered by game and range.
func (r *Registry[H]) Bindings() []Binding[H] {
	var out []Binding[H]
	for _, list := range r.games {
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Game != out[j].Game {
			return out[i].Game < out[j].Game
		}
		if out[i].Versions.Min != out[j].Versions.Min {
			return out[i].Versions.Min < out[j].Versions.Min
		}
		return out[i].Versions.Max < out[j].Versions.Max
	})
	return out
}

// Games returns the number of distinct game codes.
func (r *Registry[H]) Games() int {
	return len(r.games)
}
