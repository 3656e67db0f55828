// Package panel keeps the server-side state of dashboard map panels. Each
// panel has a Runtime that polls its variable values, debounces changes,
// and refreshes the panel's layer through the Pipeline. Refreshes that have
// been superseded by a newer one are discarded.
package panel

import (
	"encoding/json"
	"maps"
	"slices"

	"evalmap/internal/dataset"
)

// Snapshot is the observed value of every dashboard variable at one instant.
// Scalars carry one element.
type Snapshot map[string][]string

// Signature is the canonical JSON form of s. Keys are sorted and a nil value
// list encodes like an empty one, so equal snapshots have equal signatures.
func (s Snapshot) Signature() string {
	norm := make(map[string][]string, len(s))
	for k, v := range s {
		if v == nil {
			v = []string{}
		}
		norm[k] = v
	}
	b, err := json.Marshal(norm)
	if err != nil {
		// A map of string slices always marshals.
		panic(err)
	}
	return string(b)
}

// Equal reports whether s and other have the same signature.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.Signature() == other.Signature()
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = slices.Clone(v)
	}
	return out
}

// Names returns the variable names in sorted order.
func (s Snapshot) Names() []string {
	return slices.Sorted(maps.Keys(s))
}

// Variables exposes s to the dataset parameter builders.
func (s Snapshot) Variables() dataset.Variables {
	return dataset.Variables(s)
}
