package ident

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/lherron/dsmerge/internal/errs"
)

var tagPattern = regexp.MustCompile(`^D(\d{3,})$`)

// Separator joins a dataset tag and a case id.
const Separator = "__"

// Tag formats the zero-padded dataset tag, e.g. D031.
func Tag(datasetID int) string {
	return fmt.Sprintf("D%03d", datasetID)
}

// Number formats the zero-padded dataset number used in manifests, e.g. 031.
func Number(datasetID int) string {
	return fmt.Sprintf("%03d", datasetID)
}

// Prefix prepends the dataset tag to id, e.g. D031__case.
func Prefix(datasetID int, id string) string {
	return Tag(datasetID) + Separator + id
}

// ParseTag parses a dataset tag and returns the dataset id
func ParseTag(tag string) (int, error) {
	m := tagPattern.FindStringSubmatch(strings.TrimSpace(tag))
	if m == nil {
		return 0, fmt.Errorf("invalid dataset tag: %s", tag)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid dataset tag %s: %w", tag, err)
	}
	return n, nil
}

// Policy selects when destination ids receive the dataset prefix.
type Policy string

const (
	// KeepOrPrefix keeps the source case id unless it is already taken.
	KeepOrPrefix Policy = "keep-or-prefix"
	// AlwaysPrefix prefixes every destination id.
	AlwaysPrefix Policy = "always-prefix"
)

// ParsePolicy validates a policy name. Empty means KeepOrPrefix.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", KeepOrPrefix:
		return KeepOrPrefix, nil
	case AlwaysPrefix:
		return AlwaysPrefix, nil
	default:
		return "", errs.NewValidationError("policy", s, fmt.Sprintf("unknown id policy %q (want %s or %s)", s, KeepOrPrefix, AlwaysPrefix))
	}
}

// PolicyFor maps the always-prefix flag to a Policy.
func PolicyFor(alwaysPrefix bool) Policy {
	if alwaysPrefix {
		return AlwaysPrefix
	}
	return KeepOrPrefix
}

// Registry holds the destination ids assigned during one merge run.
// Resolve is safe for concurrent use; check and insert happen under one lock.
type Registry struct {
	mu   sync.Mutex
	used map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{used: make(map[string]struct{})}
}

// Resolve assigns a unique destination id for caseID of dataset
// datasetID and records it. collided reports that the bare case id was
// already taken (or that prefixing alone did not make it unique).
func (r *Registry) Resolve(datasetID int, caseID string, policy Policy) (dest string, collided bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidate := caseID
	_, taken := r.used[caseID]
	if policy == AlwaysPrefix || taken {
		candidate = Prefix(datasetID, caseID)
	}
	collided = taken

	// Each pass lengthens the candidate, so this terminates.
	for {
		if _, ok := r.used[candidate]; !ok {
			break
		}
		collided = true
		candidate = Prefix(datasetID, candidate)
	}

	r.used[candidate] = struct{}{}
	return candidate, collided
}

// Contains reports whether id has been assigned.
func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.used[id]
	return ok
}

// Len returns the number of assigned ids.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.used)
}
