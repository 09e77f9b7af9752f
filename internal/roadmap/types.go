// Package roadmap rebuilds the feature → subfeature tree from the flat collections of a roadmap
// "initial" payload.
package roadmap

import (
	"bytes"
	"encoding/json"
)

// Lookup is the result of resolving an id against a name table. A miss keeps its slot but carries
// Found=false and serialises as JSON null.
type Lookup struct {
	Value string
	Found bool
}

// Resolved returns a found lookup for value.
func Resolved(value string) Lookup {
	return Lookup{Value: value, Found: true}
}

func (l Lookup) String() string {
	if !l.Found {
		return "<unresolved>"
	}
	return l.Value
}

func (l Lookup) MarshalJSON() ([]byte, error) {
	if !l.Found {
		return []byte("null"), nil
	}
	return json.Marshal(l.Value)
}

// MarshalYAML mirrors MarshalJSON.
func (l Lookup) MarshalYAML() (interface{}, error) {
	if !l.Found {
		return nil, nil
	}
	return l.Value, nil
}

func (l *Lookup) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = Lookup{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = Resolved(s)
	return nil
}

// Subfeature is a child item of exactly one Feature. It carries at most one release.
type Subfeature struct {
	Title       string  `json:"title" yaml:"title"`
	Description *string `json:"description" yaml:"description"`
	Timeline    *Lookup `json:"timeline" yaml:"timeline"`
}

// Feature is a top-level roadmap item.
//
// Timeline holds one entry per release assignment in input order, duplicates included. Features is
// nil until a subfeature is attached and is never an empty map.
type Feature struct {
	Title       string                 `json:"title" yaml:"title"`
	Description *string                `json:"description" yaml:"description"`
	Timeline    []Lookup               `json:"timeline" yaml:"timeline"`
	Team        *Lookup                `json:"team" yaml:"team"`
	Features    map[string]*Subfeature `json:"features" yaml:"features"`
}

// Tree maps top-level feature ids to their records.
type Tree map[string]*Feature

// Clone returns a deep copy of s.
func (s *Subfeature) Clone() *Subfeature {
	if s == nil {
		return nil
	}
	out := &Subfeature{Title: s.Title}
	if s.Description != nil {
		d := *s.Description
		out.Description = &d
	}
	if s.Timeline != nil {
		t := *s.Timeline
		out.Timeline = &t
	}
	return out
}

// Clone returns a deep copy of f, subfeatures included.
func (f *Feature) Clone() *Feature {
	if f == nil {
		return nil
	}
	out := &Feature{
		Title:    f.Title,
		Timeline: append(make([]Lookup, 0, len(f.Timeline)), f.Timeline...),
	}
	if f.Description != nil {
		d := *f.Description
		out.Description = &d
	}
	if f.Team != nil {
		t := *f.Team
		out.Team = &t
	}
	if f.Features != nil {
		out.Features = make(map[string]*Subfeature, len(f.Features))
		for id, sub := range f.Features {
			out.Features[id] = sub.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of t.
func (t Tree) Clone() Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	for id, f := range t {
		out[id] = f.Clone()
	}
	return out
}

// SubfeatureCount is the number of subfeatures across all features.
func (t Tree) SubfeatureCount() int {
	n := 0
	for _, f := range t {
		if f != nil {
			n += len(f.Features)
		}
	}
	return n
}
