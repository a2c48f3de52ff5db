package query

import (
	"fmt"
	"strings"
)

// StatementPolicy decides whether a statement may run at all.
type StatementPolicy interface {
	Allow(sqlText string) error
}

// AllowAll runs any statement the driver accepts.
type AllowAll struct{}

func (AllowAll) Allow(string) error {
	return nil
}

// PolicyFor returns ReadOnlyPolicy when readOnly is set and AllowAll
// otherwise.
func PolicyFor(readOnly bool) StatementPolicy {
	if readOnly {
		return ReadOnlyPolicy{}
	}
	return AllowAll{}
}

// ReadOnlyPolicy admits a single SELECT or WITH statement.
type ReadOnlyPolicy struct{}

func (ReadOnlyPolicy) Allow(sqlText string) error {
	trimmed := stripTrailingSemicolons(sqlText)
	if trimmed == "" {
		return fmt.Errorf("%w: empty statement", ErrStatementNotAllowed)
	}
	if hasStatementSeparator(trimmed) {
		return fmt.Errorf("%w: multiple statements", ErrStatementNotAllowed)
	}
	lower := strings.ToLower(stripLeadingComments(trimmed))
	if strings.HasPrefix(lower, "select") || strings.HasPrefix(lower, "with") {
		return nil
	}
	return fmt.Errorf("%w: only SELECT and WITH statements may run", ErrStatementNotAllowed)
}

// hasStatementSeparator reports a semicolon outside quoted literals,
// quoted identifiers and comments.
func hasStatementSeparator(sqlText string) bool {
	for i := 0; i < len(sqlText); i++ {
		switch c := sqlText[i]; {
		case c == ';':
			return true
		case c == '\'' || c == '"' || c == '`':
			// Doubled quotes escape themselves, so skipping to the next
			// quote and resuming handles them.
			end := strings.IndexByte(sqlText[i+1:], c)
			if end < 0 {
				return false
			}
			i += end + 1
		case c == '-' && strings.HasPrefix(sqlText[i:], "--"):
			end := strings.IndexByte(sqlText[i:], '\n')
			if end < 0 {
				return false
			}
			i += end
		case c == '/' && strings.HasPrefix(sqlText[i:], "/*"):
			end := strings.Index(sqlText[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += end + 3
		}
	}
	return false
}

func stripLeadingComments(sqlText string) string {
	for {
		sqlText = strings.TrimSpace(sqlText)
		switch {
		case strings.HasPrefix(sqlText, "--"):
			end := strings.Index(sqlText, "\n")
			if end < 0 {
				return ""
			}
			sqlText = sqlText[end+1:]
		case strings.HasPrefix(sqlText, "/*"):
			end := strings.Index(sqlText, "*/")
			if end < 0 {
				return ""
			}
			sqlText = sqlText[end+2:]
		default:
			return sqlText
		}
	}
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
