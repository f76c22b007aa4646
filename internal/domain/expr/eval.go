package expr

import (
	"regexp"
	"strings"
	"time"

	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

type node interface {
	match(r song.Record) bool
}

type andNode []node

func (n andNode) match(r song.Record) bool {
	for _, clause := range n {
		if !clause.match(r) {
			return false
		}
	}
	return true
}

type notNode struct {
	inner node
}

func (n notNode) match(r song.Record) bool {
	return !n.inner.match(r)
}

type tagOp int

const (
	opContains tagOp = iota
	opStartsWith
	opEqual
	opNotEqual
	opRegex
	opNotRegex
)

func (op tagOp) negated() bool {
	return op == opNotEqual || op == opNotRegex
}

type tagNode struct {
	tags   []song.Tag
	op     tagOp
	value  string
	folded string
	re     *regexp.Regexp
}

func (n *tagNode) match(r song.Record) bool {
	found := n.matchAnyValue(r)
	if n.op.negated() {
		return !found
	}
	return found
}

// matchAnyValue reports whether any value of any of the node's tags
// satisfies the positive form of the operator. A missing tag behaves like
// a single empty value.
func (n *tagNode) matchAnyValue(r song.Record) bool {
	seen := false
	for _, tag := range n.tags {
		for _, v := range r.Values(tag) {
			seen = true
			if n.test(v) {
				return true
			}
		}
	}
	if !seen {
		return n.test("")
	}
	return false
}

func (n *tagNode) test(v string) bool {
	switch n.op {
	case opContains:
		return strings.Contains(strings.ToLower(v), n.folded)
	case opStartsWith:
		return strings.HasPrefix(strings.ToLower(v), n.folded)
	case opEqual, opNotEqual:
		return v == n.value
	case opRegex, opNotRegex:
		return n.re.MatchString(v)
	}
	return false
}

type cmpOp int

const (
	cmpEQ cmpOp = iota
	cmpNE
	cmpGT
	cmpGE
	cmpLT
	cmpLE
)

func (c cmpOp) compare(a, b int) bool {
	switch c {
	case cmpEQ:
		return a == b
	case cmpNE:
		return a != b
	case cmpGT:
		return a > b
	case cmpGE:
		return a >= b
	case cmpLT:
		return a < b
	case cmpLE:
		return a <= b
	}
	return false
}

type prioNode struct {
	cmp   cmpOp
	value int
}

func (n prioNode) match(r song.Record) bool {
	return n.cmp.compare(r.Priority(), n.value)
}

// formatNode matches "samplerate:bits:channels" where any pattern segment
// may be "*".
type formatNode struct {
	negate  bool
	pattern [3]string
}

func (n formatNode) match(r song.Record) bool {
	parts := strings.Split(r.AudioFormat(), ":")
	matched := len(parts) == 3
	for i := 0; matched && i < 3; i++ {
		if n.pattern[i] != "*" && n.pattern[i] != parts[i] {
			matched = false
		}
	}
	if n.negate {
		return !matched
	}
	return matched
}

type baseNode struct {
	prefix string
}

func (n baseNode) match(r song.Record) bool {
	if n.prefix == "" {
		return true
	}
	uri := r.URI()
	return uri == n.prefix || strings.HasPrefix(uri, n.prefix+"/")
}

type fileNode struct {
	negate bool
	uri    string
}

func (n fileNode) match(r song.Record) bool {
	return (r.URI() == n.uri) != n.negate
}

type sinceField int

const (
	sinceModified sinceField = iota
	sinceAdded
)

type sinceNode struct {
	field sinceField
	since time.Time
}

func (n sinceNode) match(r song.Record) bool {
	t := r.LastModified()
	if n.field == sinceAdded {
		t = r.Added()
	}
	return !t.IsZero() && !t.Before(n.since)
}
