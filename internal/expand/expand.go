// Package expand implements compi's variable expander: substitution of
// ${NAME} and $NAME references against a layered scope of built-in,
// environment-derived, and user-defined bindings, with recursive
// expansion and cycle detection (spec.md §4.1).
package expand

import (
	"fmt"
	"os"
	"strings"
)

// nameStart reports whether b can start a bare variable name
// ([A-Za-z_][A-Za-z0-9_]*); nameCont covers the remaining characters.
func nameStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func nameCont(b byte) bool {
	return nameStart(b) || (b >= '0' && b <= '9')
}

// Scope is a name->literal mapping built once per invocation (NewScope,
// then Set for each user variable). Later-registered entries win on
// collision, matching the
// precedence in spec.md §4.1: PWD, then ENV_*, then user [variables].
//
// User variable values are expanded lazily (on first lookup) against the
// whole scope, memoized, with a visited-set to detect cycles.
type Scope struct {
	raw      map[string]string
	resolved map[string]string
	visiting map[string]bool
}

// NewScope builds the base scope: PWD plus one ENV_X entry per
// environment variable. User variables are added afterward with Set.
func NewScope() *Scope {
	s := &Scope{
		raw:      make(map[string]string),
		resolved: make(map[string]string),
		visiting: make(map[string]bool),
	}
	if pwd, err := os.Getwd(); err == nil {
		s.raw["PWD"] = pwd
	}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			s.raw["ENV_"+kv[:i]] = kv[i+1:]
		}
	}
	return s
}

// Set registers a user variable's raw (unexpanded) value, overriding any
// existing binding of the same name — this is how [variables] entries
// win over PWD/ENV_* per the precedence order.
func (s *Scope) Set(name, rawValue string) {
	s.raw[name] = rawValue
	delete(s.resolved, name)
}

// Lookup returns the fully expanded value of name, expanding it lazily
// (and memoizing the result) on first access.
func (s *Scope) Lookup(name string) (string, error) {
	if v, ok := s.resolved[name]; ok {
		return v, nil
	}
	raw, ok := s.raw[name]
	if !ok {
		return "", fmt.Errorf("undefined variable %q", name)
	}
	if s.visiting[name] {
		return "", fmt.Errorf("cyclic variable expansion involving %q", name)
	}
	s.visiting[name] = true
	v, err := s.expand(raw, name+"'s value")
	delete(s.visiting, name)
	if err != nil {
		return "", err
	}
	s.resolved[name] = v
	return v, nil
}

// Text expands all ${NAME}/$NAME references in text, recursing into
// replacement values until none remain. field is used only to annotate
// error messages (e.g. "command", "inputs[2]").
func (s *Scope) Text(text, field string) (string, error) {
	return s.expand(text, field)
}

func (s *Scope) expand(text, field string) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(text) {
		c := text[i]
		if c == '$' && i+1 < len(text) && text[i+1] == '$' {
			out.WriteByte('$')
			i += 2
			continue
		}
		if c != '$' {
			out.WriteByte(c)
			i++
			continue
		}
		// c == '$' and not an escape.
		if i+1 >= len(text) {
			out.WriteByte(c)
			i++
			continue
		}
		if text[i+1] == '{' {
			end := strings.IndexByte(text[i+2:], '}')
			if end < 0 {
				return "", fmt.Errorf("malformed variable reference in %s: unterminated ${ starting at offset %d", field, i)
			}
			name := text[i+2 : i+2+end]
			val, err := s.resolveName(name, field)
			if err != nil {
				return "", err
			}
			out.WriteString(val)
			i += 2 + end + 1
			continue
		}
		if nameStart(text[i+1]) {
			j := i + 1
			for j < len(text) && nameCont(text[j]) {
				j++
			}
			name := text[i+1 : j]
			val, err := s.resolveName(name, field)
			if err != nil {
				return "", err
			}
			out.WriteString(val)
			i = j
			continue
		}
		out.WriteByte(c)
		i++
	}
	return out.String(), nil
}

func (s *Scope) resolveName(name, field string) (string, error) {
	if s.visiting[name] {
		return "", fmt.Errorf("cyclic variable expansion involving %q (while expanding %s)", name, field)
	}
	if v, ok := s.resolved[name]; ok {
		return v, nil
	}
	raw, ok := s.raw[name]
	if !ok {
		return "", fmt.Errorf("undefined variable %q referenced in %s", name, field)
	}
	s.visiting[name] = true
	v, err := s.expand(raw, name+"'s value")
	delete(s.visiting, name)
	if err != nil {
		return "", err
	}
	s.resolved[name] = v
	return v, nil
}
