package expr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

type parser struct {
	src     string
	pos     int
	anyTags []song.Tag
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Expression: p.src, Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n' || p.src[p.pos] == '\r') {
		p.pos++
	}
}

func (p *parser) consume(c byte) bool {
	if p.peek() == c {
		p.pos++
		return true
	}
	return false
}

// consumeKeyword consumes word when it is followed by a space or '('.
func (p *parser) consumeKeyword(word string) bool {
	if !strings.HasPrefix(p.src[p.pos:], word) {
		return false
	}
	next := p.pos + len(word)
	if next < len(p.src) && p.src[next] != ' ' && p.src[next] != '(' {
		return false
	}
	p.pos = next
	return true
}

func (p *parser) parse() (node, error) {
	p.skipSpace()
	if p.eof() {
		return nil, p.errorf("empty expression")
	}

	root, err := p.parseGroup()
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected %q after expression", p.src[p.pos:])
	}
	return root, nil
}

// parseGroup parses "(" (group (AND group)* | "!" group | predicate) ")".
func (p *parser) parseGroup() (node, error) {
	p.skipSpace()
	if !p.consume('(') {
		return nil, p.errorf("expected '('")
	}
	p.skipSpace()

	var n node
	switch p.peek() {
	case '(':
		var list andNode
		for {
			clause, err := p.parseGroup()
			if err != nil {
				return nil, err
			}
			list = append(list, clause)
			p.skipSpace()
			if !p.consumeKeyword("AND") {
				break
			}
		}
		if len(list) == 1 {
			n = list[0]
		} else {
			n = list
		}
	case '!':
		p.pos++
		inner, err := p.parseGroup()
		if err != nil {
			return nil, err
		}
		n = notNode{inner: inner}
	default:
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		n = pred
	}

	p.skipSpace()
	if !p.consume(')') {
		if p.eof() {
			return nil, p.errorf("unbalanced parentheses")
		}
		return nil, p.errorf("expected ')'")
	}
	return n, nil
}

func (p *parser) parsePredicate() (node, error) {
	start := p.pos
	name := p.readIdent()
	if name == "" {
		return nil, p.errorf("expected tag name")
	}
	p.skipSpace()

	switch strings.ToLower(name) {
	case "base":
		v, err := p.readQuoted()
		if err != nil {
			return nil, err
		}
		return baseNode{prefix: strings.TrimSuffix(v, "/")}, nil

	case "modified-since", "added-since":
		v, err := p.readQuoted()
		if err != nil {
			return nil, err
		}
		since, ok := parseSince(v)
		if !ok {
			return nil, p.errorf("invalid date %q", v)
		}
		field := sinceModified
		if strings.ToLower(name) == "added-since" {
			field = sinceAdded
		}
		return sinceNode{field: field, since: since}, nil

	case "file":
		if c := p.peek(); c == '\'' || c == '"' {
			v, err := p.readQuoted()
			if err != nil {
				return nil, err
			}
			return fileNode{uri: v}, nil
		}
		op := p.readOperator()
		if op != "==" && op != "!=" {
			return nil, p.errorf("unknown operator %q for file", op)
		}
		v, err := p.readQuoted()
		if err != nil {
			return nil, err
		}
		return fileNode{uri: v, negate: op == "!="}, nil

	case "prio":
		op := p.readOperator()
		cmp, ok := compareOps[op]
		if !ok {
			return nil, p.errorf("unknown operator %q for prio", op)
		}
		n, err := p.readNumber()
		if err != nil {
			return nil, err
		}
		return prioNode{cmp: cmp, value: n}, nil

	case "audioformat":
		op := p.readOperator()
		var negate bool
		switch op {
		case "==", "=~":
		case "!=", "!~":
			negate = true
		default:
			return nil, p.errorf("unknown operator %q for AudioFormat", op)
		}
		v, err := p.readQuoted()
		if err != nil {
			return nil, err
		}
		parts := strings.Split(v, ":")
		if len(parts) != 3 {
			return nil, p.errorf("audio format must be samplerate:bits:channels")
		}
		return formatNode{negate: negate, pattern: [3]string{parts[0], parts[1], parts[2]}}, nil
	}

	var tags []song.Tag
	if strings.EqualFold(name, string(song.TagAny)) {
		tags = p.anyTags
	} else {
		tag, ok := song.LookupTag(name)
		if !ok {
			p.pos = start
			return nil, p.errorf("unknown tag %q", name)
		}
		tags = []song.Tag{tag}
	}

	opText := p.readOperator()
	op, ok := tagOps[opText]
	if !ok {
		return nil, p.errorf("unknown operator %q", opText)
	}
	v, err := p.readQuoted()
	if err != nil {
		return nil, err
	}

	n := &tagNode{tags: tags, op: op, value: v, folded: strings.ToLower(v)}
	if op == opRegex || op == opNotRegex {
		re, err := regexp.Compile("(?i)" + v)
		if err != nil {
			return nil, p.errorf("invalid regular expression: %v", err)
		}
		n.re = re
	}
	return n, nil
}

var tagOps = map[string]tagOp{
	"contains":    opContains,
	"starts_with": opStartsWith,
	"==":          opEqual,
	"!=":          opNotEqual,
	"=~":          opRegex,
	"!~":          opNotRegex,
}

var compareOps = map[string]cmpOp{
	"==": cmpEQ,
	"!=": cmpNE,
	">":  cmpGT,
	">=": cmpGE,
	"<":  cmpLT,
	"<=": cmpLE,
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}

func (p *parser) readIdent() string {
	start := p.pos
	for !p.eof() && isIdentRune(rune(p.src[p.pos])) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) readOperator() string {
	p.skipSpace()
	rest := p.src[p.pos:]
	for _, op := range []string{"==", "!=", "=~", "!~", ">=", "<="} {
		if strings.HasPrefix(rest, op) {
			p.pos += len(op)
			p.skipSpace()
			return op
		}
	}
	if c := p.peek(); c == '>' || c == '<' {
		p.pos++
		p.skipSpace()
		return string(c)
	}
	op := p.readIdent()
	p.skipSpace()
	return op
}

// readQuoted reads a single or double quoted literal; a backslash escapes
// the following character.
func (p *parser) readQuoted() (string, error) {
	p.skipSpace()
	quote := p.peek()
	if quote != '\'' && quote != '"' {
		return "", p.errorf("expected quoted value")
	}
	p.pos++

	var b strings.Builder
	for {
		if p.eof() {
			return "", p.errorf("unterminated quoted value")
		}
		c := p.src[p.pos]
		switch {
		case c == '\\':
			p.pos++
			if p.eof() {
				return "", p.errorf("unterminated quoted value")
			}
			b.WriteByte(p.src[p.pos])
		case c == quote:
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
		}
		p.pos++
	}
}

func (p *parser) readNumber() (int, error) {
	p.skipSpace()
	if c := p.peek(); c == '\'' || c == '"' {
		v, err := p.readQuoted()
		if err != nil {
			return 0, err
		}
		n, convErr := strconv.Atoi(strings.TrimSpace(v))
		if convErr != nil {
			return 0, p.errorf("expected number, got %q", v)
		}
		return n, nil
	}

	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	for !p.eof() && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	n, err := strconv.Atoi(p.src[start:p.pos])
	if err != nil {
		p.pos = start
		return 0, p.errorf("expected number")
	}
	return n, nil
}

var sinceLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseSince accepts unix seconds or an ISO 8601 date; dates without zone
// are UTC.
func parseSince(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), true
	}
	for _, layout := range sinceLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
