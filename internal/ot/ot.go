// Package ot implements the text operation model used for collaborative
// editing: applying a Retain/Insert/Delete sequence to a string, and rebasing
// one sequence against another concurrent one.
package ot

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrMalformed is returned when an operation carries none of the three
// variants, or a count/text field required by its variant is absent.
var ErrMalformed = errors.New("malformed operation")

// Operation is one Retain/Insert/Delete step. Exactly one of the three
// variant fields must be set; a nil count or text means the field was absent
// on the wire, which is invalid.
type Operation struct {
	Retain   *int    `json:"retain,omitempty"`
	Insert   *string `json:"insert,omitempty"`
	Delete   *int    `json:"delete,omitempty"`
	AuthorID int64   `json:"authorId,omitempty"`
}

// RetainOp builds a Retain of n characters.
func RetainOp(n int) Operation {
	return Operation{Retain: &n}
}

// InsertOp builds an Insert of text attributed to the given author.
func InsertOp(text string, authorID int64) Operation {
	return Operation{Insert: &text, AuthorID: authorID}
}

// DeleteOp builds a Delete of n characters.
func DeleteOp(n int) Operation {
	return Operation{Delete: &n}
}

func (op Operation) insertLen() int {
	if op.Insert == nil {
		return 0
	}
	return utf8.RuneCountInString(*op.Insert)
}

func (op Operation) validate() error {
	set := 0
	if op.Retain != nil {
		if *op.Retain < 0 {
			return fmt.Errorf("%w: negative retain", ErrMalformed)
		}
		set++
	}
	if op.Insert != nil {
		set++
	}
	if op.Delete != nil {
		if *op.Delete < 0 {
			return fmt.Errorf("%w: negative delete", ErrMalformed)
		}
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: expected exactly one of retain/insert/delete", ErrMalformed)
	}
	return nil
}

// Apply transforms content by walking ops left to right: Retain consumes
// characters of content, Insert emits its text verbatim, Delete skips
// characters. The sequence must account for the full length of content.
// Offsets are in characters, not bytes.
func Apply(content string, ops []Operation) (string, error) {
	src := []rune(content)
	var b strings.Builder
	pos := 0
	for i, op := range ops {
		if err := op.validate(); err != nil {
			return "", fmt.Errorf("op %d: %w", i, err)
		}
		switch {
		case op.Retain != nil:
			n := *op.Retain
			if pos+n > len(src) {
				return "", fmt.Errorf("%w: retain %d past end of content", ErrMalformed, n)
			}
			b.WriteString(string(src[pos : pos+n]))
			pos += n
		case op.Insert != nil:
			b.WriteString(*op.Insert)
		case op.Delete != nil:
			n := *op.Delete
			if pos+n > len(src) {
				return "", fmt.Errorf("%w: delete %d past end of content", ErrMalformed, n)
			}
			pos += n
		}
	}
	if pos != len(src) {
		return "", fmt.Errorf("%w: operations cover %d of %d characters", ErrMalformed, pos, len(src))
	}
	return b.String(), nil
}

// Transform rebases pending so it can still be applied after incoming has
// already been applied to the shared base content. Resolution order:
//
//  1. Insert vs Insert: the lower author id wins the spot; its insert is kept
//     verbatim, the other side's insert turns into a Retain of its length so
//     the text is not inserted twice.
//  2. A lone Insert on either side is preserved (pending's emitted verbatim,
//     incoming's covered by a Retain). Inserts never lose to a racing
//     retain or delete.
//  3. Retain vs Retain intersect to the shorter Retain.
//  4. Pending Delete vs incoming Retain intersect to the shorter Delete.
//  5. Delete vs Delete, and pending Retain vs incoming Delete, intersect to
//     nothing: a character the other side already deleted needs no further op.
//
// The result is coalesced before being returned.
func Transform(pending, incoming []Operation) []Operation {
	p := cloneOps(pending)
	q := cloneOps(incoming)
	var out []Operation

	for len(p) > 0 && len(q) > 0 {
		a, b := &p[0], &q[0]
		switch {
		case a.Insert != nil && b.Insert != nil:
			if a.AuthorID <= b.AuthorID {
				out = append(out, p[0])
				p = p[1:]
			} else {
				out = append(out, RetainOp(b.insertLen()))
				q = q[1:]
			}
		case a.Insert != nil:
			out = append(out, p[0])
			p = p[1:]
		case b.Insert != nil:
			out = append(out, RetainOp(b.insertLen()))
			q = q[1:]
		default:
			an, bn := count(a), count(b)
			n := min(an, bn)
			switch {
			case a.Retain != nil && b.Retain != nil:
				out = append(out, RetainOp(n))
			case a.Delete != nil && b.Retain != nil:
				out = append(out, DeleteOp(n))
			}
			// Delete/Delete and Retain vs incoming Delete emit nothing.
			consume(&p, n)
			consume(&q, n)
		}
	}

	for _, op := range p {
		out = append(out, op)
	}
	for _, op := range q {
		// Leftover incoming inserts (and any uncovered retains) still grew
		// the rebased target, so the pending sequence must span them.
		if op.Insert != nil {
			out = append(out, RetainOp(op.insertLen()))
		} else if op.Retain != nil {
			out = append(out, RetainOp(*op.Retain))
		}
	}
	return Coalesce(out)
}

// Coalesce merges adjacent operations of the same kind and drops zero-length
// retains/deletes and empty inserts. Running it twice yields the same result
// as running it once.
func Coalesce(ops []Operation) []Operation {
	out := make([]Operation, 0, len(ops))
	for _, op := range ops {
		if (op.Retain != nil && *op.Retain == 0) ||
			(op.Delete != nil && *op.Delete == 0) ||
			(op.Insert != nil && *op.Insert == "") {
			continue
		}
		if len(out) > 0 {
			last := &out[len(out)-1]
			switch {
			case last.Retain != nil && op.Retain != nil:
				merged := *last.Retain + *op.Retain
				last.Retain = &merged
				continue
			case last.Delete != nil && op.Delete != nil:
				merged := *last.Delete + *op.Delete
				last.Delete = &merged
				continue
			case last.Insert != nil && op.Insert != nil && last.AuthorID == op.AuthorID:
				merged := *last.Insert + *op.Insert
				last.Insert = &merged
				continue
			}
		}
		out = append(out, cloneOp(op))
	}
	return out
}

// Validate checks every operation in the sequence for structural validity
// without applying it.
func Validate(ops []Operation) error {
	for i, op := range ops {
		if err := op.validate(); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}
	return nil
}

func count(op *Operation) int {
	if op.Retain != nil {
		return *op.Retain
	}
	if op.Delete != nil {
		return *op.Delete
	}
	return 0
}

func consume(ops *[]Operation, n int) {
	head := &(*ops)[0]
	switch {
	case head.Retain != nil:
		rest := *head.Retain - n
		if rest <= 0 {
			*ops = (*ops)[1:]
			return
		}
		head.Retain = &rest
	case head.Delete != nil:
		rest := *head.Delete - n
		if rest <= 0 {
			*ops = (*ops)[1:]
			return
		}
		head.Delete = &rest
	}
}

func cloneOps(ops []Operation) []Operation {
	out := make([]Operation, len(ops))
	for i, op := range ops {
		out[i] = cloneOp(op)
	}
	return out
}

func cloneOp(op Operation) Operation {
	c := Operation{AuthorID: op.AuthorID}
	if op.Retain != nil {
		v := *op.Retain
		c.Retain = &v
	}
	if op.Insert != nil {
		v := *op.Insert
		c.Insert = &v
	}
	if op.Delete != nil {
		v := *op.Delete
		c.Delete = &v
	}
	return c
}
