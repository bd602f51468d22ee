// Package registry is the catalog of resource scanners. It is populated
// once at startup from an explicit registration table, sealed, and then
// read concurrently without synchronization.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/types"
)

// Scope classifies where a scanner runs.
type Scope int

const (
	// ScopeRegional scanners run once per (account, region) pair.
	ScopeRegional Scope = iota
	// ScopeGlobal scanners inspect account-wide resources and run exactly
	// once per account, under the sentinel region types.GlobalRegion.
	ScopeGlobal
)

func (s Scope) String() string {
	if s == ScopeGlobal {
		return "global"
	}
	return "regional"
}

// Scanner is the plugin contract: a stateless check over one credential
// context that reports apparently unused resources.
type Scanner interface {
	// Alias is the short identifier used in CLI arguments; unique per registry.
	Alias() string
	// Label is the human-readable name used in report tables.
	Label() string
	// Scope reports whether the scanner is regional or account-wide.
	Scope() Scope
	// Scan inspects resources reachable from the given context.
	Scan(ctx context.Context, sess session.Context) ([]types.Finding, error)
}

// NotFoundError is returned when no scanner matches an identifier.
type NotFoundError struct {
	Identifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("scanner %q not found (by alias, label, or type name)", e.Identifier)
}

// Registry maps scanner identifiers to scanners. Lookup is multi-keyed
// because operators, automation, and report code refer to scanners
// inconsistently: alias in flags, label in report tables.
type Registry struct {
	mu      sync.Mutex
	sealed  bool
	byAlias map[string]Scanner
	byType  map[string]Scanner // lowercased concrete type name
	aliases *btree.BTreeG[string]
}

// New creates an empty, unsealed registry.
func New() *Registry {
	return &Registry{
		byAlias: make(map[string]Scanner),
		byType:  make(map[string]Scanner),
		aliases: btree.NewG(2, func(a, b string) bool { return a < b }),
	}
}

// Register adds a scanner. It fails on a nil or incomplete scanner, a
// duplicate alias, or after the registry has been sealed.
func (r *Registry) Register(s Scanner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("registry is sealed, cannot register %T", s)
	}
	if s == nil {
		return fmt.Errorf("scanner must not be nil")
	}
	if s.Alias() == "" || s.Label() == "" {
		return fmt.Errorf("scanner %T must provide a non-empty alias and label", s)
	}
	if _, exists := r.byAlias[s.Alias()]; exists {
		return fmt.Errorf("scanner alias %q already registered", s.Alias())
	}

	r.byAlias[s.Alias()] = s
	r.byType[strings.ToLower(typeName(s))] = s
	r.aliases.ReplaceOrInsert(s.Alias())
	return nil
}

// Seal makes the registry read-only. Call once registration is complete,
// before any concurrent use.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Resolve finds a scanner by alias, then label, then concrete type name
// (case-insensitive), in that priority order.
func (r *Registry) Resolve(identifier string) (Scanner, error) {
	if s, ok := r.byAlias[identifier]; ok {
		return s, nil
	}

	for _, s := range r.byAlias {
		if s.Label() == identifier {
			return s, nil
		}
	}

	if s, ok := r.byType[strings.ToLower(identifier)]; ok {
		return s, nil
	}

	return nil, &NotFoundError{Identifier: identifier}
}

// List returns all registered aliases in alphabetical order. The ordering
// is what keeps CLI listings and test output stable.
func (r *Registry) List() []string {
	aliases := make([]string, 0, r.aliases.Len())
	r.aliases.Ascend(func(alias string) bool {
		aliases = append(aliases, alias)
		return true
	})
	return aliases
}

// typeName strips the package path and pointer marker from a scanner's
// concrete type, e.g. "*aws.EC2Scanner" -> "EC2Scanner".
func typeName(s Scanner) string {
	name := fmt.Sprintf("%T", s)
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.TrimPrefix(name, "*")
}
