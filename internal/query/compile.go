package query

import (
	"strings"

	"github.com/wayfind/intent-engine-sub003/internal/types"
)

// Compiled is a query AST rendered into an FTS5 MATCH expression, plus
// the status filter extracted from any StatusNode leaves. A status token
// is only a filter: it is collected into Statuses and contributes no
// atom to Match, so "widget done" matches the text "widget" among done
// tasks. A query made of status tokens alone compiles to an empty
// Match, for which Search returns no hits.
type Compiled struct {
	Match    string
	Statuses []types.Status
}

// Compile renders node as an FTS5 query string understood by MATCH,
// consistent with spec.md §9's "delegate to the embedded DB's built-in
// FTS" design note: the AST is compiled to FTS5 syntax rather than
// evaluated in Go.
func Compile(node Node) (*Compiled, error) {
	c := &Compiled{}
	match := c.compileNode(node)
	return &Compiled{Match: match, Statuses: dedupStatuses(c.Statuses)}, nil
}

func dedupStatuses(in []types.Status) []types.Status {
	if len(in) == 0 {
		return nil
	}
	seen := map[types.Status]bool{}
	var out []types.Status
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (c *Compiled) compileNode(node Node) string {
	switch n := node.(type) {
	case *TermNode:
		return escapeFTS5(n.Text)
	case *PhraseNode:
		return escapeFTS5Phrase(n.Text)
	case *StatusNode:
		c.Statuses = append(c.Statuses, n.Status)
		return ""
	case *AndNode:
		left := c.compileNode(n.Left)
		if not, ok := n.Right.(*NotNode); ok && left != "" {
			// "foo -bar" parses as AndNode{foo, NotNode{bar}}; FTS5's NOT
			// is a binary infix operator, not a unary prefix, so render
			// it as "foo NOT bar" rather than nesting a bare NOT.
			if operand := c.compileNode(not.Operand); operand != "" {
				return left + " NOT " + operand
			}
			return left
		}
		return combine(left, "AND", c.compileNode(n.Right))
	case *OrNode:
		return combine(c.compileNode(n.Left), "OR", c.compileNode(n.Right))
	case *NotNode:
		// A standalone leading negation has no left-hand side to subtract
		// from; FTS5 has no unary NOT. Best effort: render it anyway, which
		// FTS5 will reject as a malformed query rather than silently
		// matching everything — callers see an InvalidInput-style error
		// instead of surprising results.
		return "NOT " + c.compileNode(n.Operand)
	default:
		return ""
	}
}

// combine joins two compiled operands with op, dropping an operand that
// compiled to nothing (a status token).
func combine(left, op, right string) string {
	if left == "" {
		return right
	}
	if right == "" {
		return left
	}
	return "(" + left + " " + op + " " + right + ")"
}

// escapeFTS5 quotes a bare term if it contains anything outside
// alphanumerics/underscore, since FTS5's own tokenizer would otherwise
// treat punctuation as syntax.
func escapeFTS5(s string) string {
	needsQuote := s == ""
	for _, r := range s {
		if !(r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			needsQuote = true
			break
		}
	}
	if !needsQuote {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func escapeFTS5Phrase(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
