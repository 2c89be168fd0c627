package workspace

import (
	"fmt"
	"regexp"
	"strings"
)

// variablePattern matches `{{object.attribute}}` references in command
// templates.
var variablePattern = regexp.MustCompile(`\{\{(\w+)\.(\w+)\}\}`)

// UnresolvedReferenceError reports a template reference to an object or
// attribute absent from the environment snapshot. Resolution never defaults
// and never partially substitutes; the first unresolved reference aborts the
// command batch.
type UnresolvedReferenceError struct {
	// Object is the referenced object key
	Object string

	// Attribute is the referenced attribute; empty when the object itself
	// is unknown
	Attribute string
}

func (e *UnresolvedReferenceError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("object %q not found in environment", e.Object)
	}
	return fmt.Sprintf("attribute %q not found on object %q in environment", e.Attribute, e.Object)
}

// Snapshot is the ephemeral mapping used to resolve command templates: an
// insertion-ordered mapping from an object key (a node id, an app name, or
// the literal "system") to a flat attribute map.
//
// A snapshot is rebuilt before each command batch, owned by the orchestrator
// for the duration of one operation, and never persisted.
type Snapshot struct {
	keys    []string
	objects map[string]map[string]string
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{objects: make(map[string]map[string]string)}
}

// Set stores the attribute map for an object key, replacing any previous
// attributes while keeping the key's original position.
func (s *Snapshot) Set(key string, attrs map[string]string) {
	if _, ok := s.objects[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.objects[key] = attrs
}

// Keys returns the object keys in insertion order.
func (s *Snapshot) Keys() []string {
	keys := make([]string, len(s.keys))
	copy(keys, s.keys)
	return keys
}

// Lookup returns the attribute value for object.attribute, or an
// UnresolvedReferenceError identifying the missing piece.
func (s *Snapshot) Lookup(object, attribute string) (string, error) {
	attrs, ok := s.objects[object]
	if !ok {
		return "", &UnresolvedReferenceError{Object: object}
	}
	value, ok := attrs[attribute]
	if !ok {
		return "", &UnresolvedReferenceError{Object: object, Attribute: attribute}
	}
	return value, nil
}

// Clone returns an independent copy sharing no state with the receiver.
func (s *Snapshot) Clone() *Snapshot {
	clone := NewSnapshot()
	for _, key := range s.keys {
		attrs := make(map[string]string, len(s.objects[key]))
		for k, v := range s.objects[key] {
			attrs[k] = v
		}
		clone.Set(key, attrs)
	}
	return clone
}

// Resolve substitutes every `{{object.attribute}}` reference in text.
// Resolution is total: any reference to an absent object or attribute
// returns an UnresolvedReferenceError and no output.
func (s *Snapshot) Resolve(text string) (string, error) {
	var out strings.Builder
	last := 0
	for _, m := range variablePattern.FindAllStringSubmatchIndex(text, -1) {
		value, err := s.Lookup(text[m[2]:m[3]], text[m[4]:m[5]])
		if err != nil {
			return "", err
		}
		out.WriteString(text[last:m[0]])
		out.WriteString(value)
		last = m[1]
	}
	out.WriteString(text[last:])
	return out.String(), nil
}

// ResolveAll resolves every template in order, failing on the first
// unresolved reference.
func (s *Snapshot) ResolveAll(templates []string) ([]string, error) {
	resolved := make([]string, 0, len(templates))
	for _, t := range templates {
		r, err := s.Resolve(t)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, r)
	}
	return resolved, nil
}
