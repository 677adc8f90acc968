package blueprint

import (
	"fmt"
	"path"
	"strings"
)

// Scope restricts which resource types a run touches. Patterns use shell
// wildcards against type names: "aws_*", "dbx_cluster", "*_table".
type Scope struct {
	Mode     string   `json:"mode" validate:"required,oneof=include exclude"`
	Patterns []string `json:"patterns" validate:"required,min=1,dive,required"`
}

const (
	ScopeInclude = "include"
	ScopeExclude = "exclude"
)

// Validate checks mode and pattern syntax.
func (s *Scope) Validate() error {
	if s.Mode != ScopeInclude && s.Mode != ScopeExclude {
		return fmt.Errorf("invalid scope mode %q: must be %s or %s", s.Mode, ScopeInclude, ScopeExclude)
	}
	if len(s.Patterns) == 0 {
		return fmt.Errorf("scope requires at least one pattern")
	}
	for _, p := range s.Patterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("scope pattern must not be empty")
		}
		if _, err := path.Match(p, "probe"); err != nil {
			return fmt.Errorf("invalid scope pattern %q: %w", p, err)
		}
	}
	return nil
}

// Allows reports whether a resource type passes the filter. A nil scope
// allows everything.
func (s *Scope) Allows(resourceType string) bool {
	if s == nil {
		return true
	}
	matched := false
	for _, p := range s.Patterns {
		if ok, _ := path.Match(p, resourceType); ok {
			matched = true
			break
		}
	}
	if s.Mode == ScopeInclude {
		return matched
	}
	return !matched
}
