// Package expr implements the MPD filter expression language used to select
// songs and albums: parsing into an Expression and evaluating it against a
// single record.
package expr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

// ErrInvalidExpression matches every parse failure.
var ErrInvalidExpression = errors.New("invalid expression")

// ParseError describes a malformed expression.
type ParseError struct {
	Expression string
	Pos        int
	Msg        string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid expression at position %d: %s", e.Pos, e.Msg)
}

// Is makes errors.Is(err, ErrInvalidExpression) hold for parse errors.
func (e *ParseError) Is(target error) bool {
	return target == ErrInvalidExpression
}

// Expression is a parsed filter. The zero value and nil match everything.
type Expression struct {
	text string
	root node
}

// Option customizes parsing.
type Option func(*parser)

// WithAnyTags sets the tags searched by the "any" pseudo tag.
func WithAnyTags(tags []song.Tag) Option {
	return func(p *parser) {
		p.anyTags = tags
	}
}

// Parse parses an expression such as
// ((Artist == 'Blixa Bargeld') AND (prio >= 5)).
func Parse(text string, opts ...Option) (*Expression, error) {
	p := &parser{src: text, anyTags: song.BrowseTags}
	for _, opt := range opts {
		opt(p)
	}

	root, err := p.parse()
	if err != nil {
		return nil, err
	}
	return &Expression{text: text, root: root}, nil
}

// ParseOptional parses text, returning nil for blank input.
func ParseOptional(text string, opts ...Option) (*Expression, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return Parse(text, opts...)
}

// Match evaluates the expression against one record. Clauses are AND-ed
// and evaluation stops at the first clause that does not match.
func (e *Expression) Match(r song.Record) bool {
	if e == nil || e.root == nil {
		return true
	}
	return e.root.match(r)
}

// Evaluate is the function form of Match.
func Evaluate(e *Expression, r song.Record) bool {
	return e.Match(r)
}

// String returns the source text.
func (e *Expression) String() string {
	if e == nil {
		return ""
	}
	return e.text
}

// Accept reports whether r passes an exclude/include pair. The exclude
// expression is evaluated first and wins over the include expression.
func Accept(include, exclude *Expression, r song.Record) bool {
	if exclude != nil && exclude.Match(r) {
		return false
	}
	return include.Match(r)
}

// Quote returns value as a single quoted expression literal.
func Quote(value string) string {
	var b strings.Builder
	b.Grow(len(value) + 2)
	b.WriteByte('\'')
	for _, r := range value {
		if r == '\'' || r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}

// Equals builds "(tag == 'value')".
func Equals(tag song.Tag, value string) string {
	return "(" + string(tag) + " == " + Quote(value) + ")"
}

// And joins clauses into one expression. A single clause is still wrapped
// so the result always parses as a group.
func And(clauses ...string) string {
	return "(" + strings.Join(clauses, " AND ") + ")"
}
