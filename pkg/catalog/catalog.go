package catalog

import (
	"fmt"
	"strings"
)

// Kind identifies what a check verifies.
type Kind string

const (
	KindEntityExists     Kind = "entity_exists"
	KindSeedDataPresent  Kind = "seed_data_present"
	KindAuthReachable    Kind = "auth_reachable"
	KindSecurityEnforced Kind = "security_enforced"
)

// Valid reports whether k is a recognized kind.
func (k Kind) Valid() bool {
	switch k {
	case KindEntityExists, KindSeedDataPresent, KindAuthReachable, KindSecurityEnforced:
		return true
	}
	return false
}

// NeedsTarget reports whether checks of this kind are scoped to an entity.
func (k Kind) NeedsTarget() bool {
	return k != KindAuthReachable
}

// CheckSpec declares one expectation about the backend.
type CheckSpec struct {
	ID          string `yaml:"id" json:"id"`
	Kind        Kind   `yaml:"kind" json:"kind"`
	Target      string `yaml:"target,omitempty" json:"target,omitempty"`
	Threshold   *int   `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// MinRows returns the seed threshold, or 0 when none is set.
func (c CheckSpec) MinRows() int {
	if c.Threshold == nil {
		return 0
	}
	return *c.Threshold
}

// Catalog is an ordered, read-only sequence of checks.
type Catalog struct {
	checks []CheckSpec
}

// New validates specs and freezes them into a Catalog.
// A *ConfigurationError is returned when any entry is malformed.
func New(specs []CheckSpec) (*Catalog, error) {
	if err := validate(specs); err != nil {
		return nil, err
	}
	checks := make([]CheckSpec, len(specs))
	for i, s := range specs {
		if s.Threshold != nil {
			t := *s.Threshold
			s.Threshold = &t
		}
		checks[i] = s
	}
	return &Catalog{checks: checks}, nil
}

// Len returns the number of checks.
func (c *Catalog) Len() int {
	return len(c.checks)
}

// At returns the i-th check.
func (c *Catalog) At(i int) CheckSpec {
	s := c.checks[i]
	if s.Threshold != nil {
		t := *s.Threshold
		s.Threshold = &t
	}
	return s
}

// Checks returns a copy of the ordered checks.
func (c *Catalog) Checks() []CheckSpec {
	out := make([]CheckSpec, len(c.checks))
	for i := range c.checks {
		out[i] = c.At(i)
	}
	return out
}

// Targets returns the distinct entity targets in catalog order.
func (c *Catalog) Targets() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range c.checks {
		if s.Target == "" || seen[s.Target] {
			continue
		}
		seen[s.Target] = true
		out = append(out, s.Target)
	}
	return out
}

// Problem is a single malformed field in a catalog.
type Problem struct {
	Field   string
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Field, p.Message)
}

// ConfigurationError reports a malformed catalog. It is fatal to a run.
type ConfigurationError struct {
	Problems []Problem
}

func (e *ConfigurationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.String()
	}
	return fmt.Sprintf("invalid catalog: %s", strings.Join(msgs, "; "))
}

func validate(specs []CheckSpec) error {
	var problems []Problem
	add := func(field, format string, args ...any) {
		problems = append(problems, Problem{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	ids := make(map[string]int)
	for i, s := range specs {
		field := fmt.Sprintf("checks[%d]", i)

		if strings.TrimSpace(s.ID) == "" {
			add(field+".id", "required")
		} else if prev, dup := ids[s.ID]; dup {
			add(field+".id", "duplicate id %q (first used by checks[%d])", s.ID, prev)
		} else {
			ids[s.ID] = i
		}

		if !s.Kind.Valid() {
			add(field+".kind", "unknown kind %q", s.Kind)
			continue
		}

		if s.Kind.NeedsTarget() && strings.TrimSpace(s.Target) == "" {
			add(field+".target", "required for %s", s.Kind)
		}

		if s.Kind == KindSeedDataPresent {
			switch {
			case s.Threshold == nil:
				add(field+".threshold", "required for %s", s.Kind)
			case *s.Threshold < 0:
				add(field+".threshold", "must be >= 0, got %d", *s.Threshold)
			}
		}
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}
