package ddl

import (
	"fmt"
	"regexp"
	"strings"

	"chdocs/internal/domain"
)

// identifierRe allows alphanumeric + underscores, starting with a letter or underscore.
var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// maxIdentifierLen is the maximum length allowed for a SQL identifier.
const maxIdentifierLen = domain.MaxIdentifierLength

// maxClauseLen is the maximum length allowed for an engine or ORDER BY clause.
const maxClauseLen = 1024

// ValidateIdentifier checks that name is a safe SQL identifier:
//   - Non-empty
//   - At most 255 characters
//   - Matches [a-zA-Z_][a-zA-Z0-9_]*
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("name must be at most %d characters", maxIdentifierLen)
	}
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("name must match [a-zA-Z_][a-zA-Z0-9_]*")
	}
	return nil
}

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double-quote characters by doubling them. Both ClickHouse and
// DuckDB accept double-quoted identifiers.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral wraps a string value in single quotes, escaping any
// embedded single-quote characters by doubling them (standard SQL).
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// QuoteLiteral quotes value as a string literal for the dialect. ClickHouse
// treats backslash as an escape character inside literals, so it is doubled
// as well.
func (d Dialect) QuoteLiteral(value string) string {
	if d == DialectClickHouse {
		value = strings.ReplaceAll(value, `\`, `\\`)
	}
	return QuoteLiteral(value)
}

// ValidateClause checks a free-form clause (engine, ORDER BY) for statement
// terminators and comment markers that would let it escape its position.
func ValidateClause(clause string) error {
	if strings.TrimSpace(clause) == "" {
		return fmt.Errorf("clause is required")
	}
	if len(clause) > maxClauseLen {
		return fmt.Errorf("clause must be at most %d characters", maxClauseLen)
	}
	if strings.Contains(clause, ";") || strings.Contains(clause, "--") || strings.Contains(clause, "/*") {
		return fmt.Errorf("clause %q contains a statement terminator or comment", clause)
	}
	return nil
}
