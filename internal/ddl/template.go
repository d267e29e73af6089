package ddl

import (
	"regexp"
	"strings"

	"chdocs/internal/domain"
)

// Engine clause placeholders.
const (
	PlaceholderUUID     = "uuid"
	PlaceholderReplica  = "replica"
	PlaceholderShard    = "shard"
	PlaceholderCluster  = "cluster"
	PlaceholderDatabase = "database"
	PlaceholderTable    = "table"
)

// ServerMacros are the placeholders a ClickHouse server can expand itself.
var ServerMacros = []string{PlaceholderUUID, PlaceholderReplica, PlaceholderShard}

var knownPlaceholders = map[string]bool{
	PlaceholderUUID:     true,
	PlaceholderReplica:  true,
	PlaceholderShard:    true,
	PlaceholderCluster:  true,
	PlaceholderDatabase: true,
	PlaceholderTable:    true,
}

var placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)

// Bindings maps placeholder names to the values substituted in-process.
type Bindings map[string]string

// ExpandEngineClause substitutes every {placeholder} in template. Placeholders
// listed in deferred are left for the server to expand, rewritten as {name}
// since ClickHouse does not expand a macro with inner whitespace. Every other
// placeholder must be known and bound to a non-empty value.
func ExpandEngineClause(template string, bindings Bindings, deferred []string) (string, error) {
	skip := make(map[string]bool, len(deferred))
	for _, d := range deferred {
		skip[d] = true
	}

	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		if firstErr != nil {
			return m
		}
		name := strings.TrimSpace(m[1 : len(m)-1])
		switch {
		case !knownPlaceholders[name]:
			firstErr = &domain.TemplateResolutionError{Template: template, Placeholder: name, Reason: "is not a recognized placeholder"}
			return m
		case skip[name]:
			return "{" + name + "}"
		}
		v := bindings[name]
		if v == "" {
			firstErr = &domain.TemplateResolutionError{Template: template, Placeholder: name, Reason: "has no value"}
			return m
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
