// Package command canonicalizes raw command lines into comparable tokens.
package command

import "strings"

// DefaultNamespaces are the namespace prefixes stripped from a command verb.
var DefaultNamespaces = []string{"minecraft", "bukkit"}

// Normalizer reduces a raw command line to its canonical base verb.
type Normalizer struct {
	prefixes []string
}

// NewNormalizer builds a Normalizer for the given namespaces ("minecraft",
// "bukkit:", ...). Empty entries are ignored; nil means DefaultNamespaces.
func NewNormalizer(namespaces []string) *Normalizer {
	if namespaces == nil {
		namespaces = DefaultNamespaces
	}
	prefixes := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		ns = strings.ToLower(strings.TrimSpace(ns))
		ns = strings.TrimSuffix(ns, ":")
		if ns == "" {
			continue
		}
		prefixes = append(prefixes, ns+":")
	}
	return &Normalizer{prefixes: prefixes}
}

var defaultNormalizer = NewNormalizer(nil)

// Normalize canonicalizes raw with the default namespaces.
func Normalize(raw string) string {
	return defaultNormalizer.Normalize(raw)
}

// Normalize returns the lowercase base verb of raw with leading slashes and
// known namespace prefixes removed. Arguments are dropped. Blank input yields
// the empty token.
func (n *Normalizer) Normalize(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	token := strings.ToLower(fields[0])
	// Strip until stable so the result is a fixed point.
	for {
		stripped := strings.TrimLeft(token, "/")
		for _, p := range n.prefixes {
			stripped = strings.TrimPrefix(stripped, p)
		}
		if stripped == token {
			return token
		}
		token = stripped
	}
}

// Args returns the fields of raw after the verb.
func Args(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return nil
	}
	return fields[1:]
}
