// Package repository finds the configured repository a webhook payload refers to.
package repository

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoRepository = errors.New("invalid request body (empty `repository`)")
	ErrNoIdentifier = errors.New("invalid request body (no repository name is a string)")
)

// UnknownError is returned when none of the candidate names is configured.
type UnknownError struct {
	Candidates []string
}

func (e *UnknownError) Error() string {
	quoted := make([]string, len(e.Candidates))
	for i := range e.Candidates {
		quoted[i] = fmt.Sprintf("%q", e.Candidates[i])
	}
	return fmt.Sprintf("%s is not defined in config", strings.Join(quoted, ", "))
}

// Lookup reports whether a repository name is configured.
type Lookup interface {
	Has(name string) bool
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(name string) bool

func (f LookupFunc) Has(name string) bool {
	return f(name)
}

// Fields tried for the repository name, in order of precedence.
var identifierPaths = [][]string{
	{"repository", "full_name"},
	{"repository", "path_with_namespace"},
	{"project", "path_with_namespace"},
}

// Candidates extracts repository names from a parsed payload, in order of precedence.
// Fields that are missing or not strings are skipped.
func Candidates(payload map[string]interface{}) []string {
	candidates := make([]string, 0, len(identifierPaths))
	for _, path := range identifierPaths {
		if s, ok := lookupString(payload, path); ok {
			candidates = append(candidates, s)
		}
	}
	return candidates
}

// Resolve returns the first candidate name present in repos.
func Resolve(payload map[string]interface{}, repos Lookup) (string, error) {
	if _, ok := payload["repository"].(map[string]interface{}); !ok {
		return "", ErrNoRepository
	}

	candidates := Candidates(payload)
	if len(candidates) == 0 {
		return "", ErrNoIdentifier
	}

	for _, name := range candidates {
		if repos.Has(name) {
			return name, nil
		}
	}

	return "", &UnknownError{Candidates: candidates}
}

func lookupString(payload map[string]interface{}, path []string) (string, bool) {
	var node interface{} = payload
	for _, key := range path {
		m, ok := node.(map[string]interface{})
		if !ok {
			return "", false
		}
		node = m[key]
	}
	s, ok := node.(string)
	return s, ok
}
