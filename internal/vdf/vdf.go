// Package vdf reads Valve's KeyValues text format, the syntax used by
// config.vdf depot-key files: nested "key" "value" / "key" { ... } blocks
// with "//" line comments. It implements just enough of the format to look
// up a depot's decryption key; it is not a general-purpose VDF library.
package vdf

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Node is one level of a parsed KeyValues document. A leaf node has Value
// set and Children nil; a branch node has Children set and Value empty.
type Node struct {
	Value    string
	Children map[string]*Node
}

// Path walks a dotted sequence of case-insensitive keys down through nested
// nodes and returns the leaf value found at the end, if any.
func (n *Node) Path(keys ...string) (string, bool) {
	cur := n
	for _, key := range keys {
		if cur == nil || cur.Children == nil {
			return "", false
		}
		next, ok := cur.Children[strings.ToLower(key)]
		if !ok {
			return "", false
		}
		cur = next
	}
	if cur == nil || cur.Children != nil {
		return "", false
	}
	return cur.Value, true
}

// Parse reads a KeyValues document and returns its root node. The root
// itself is always a branch node containing the document's top-level keys.
func Parse(r io.Reader) (*Node, error) {
	p := &parser{s: bufio.NewScanner(r)}
	p.s.Split(bufio.ScanRunes)

	root := &Node{Children: map[string]*Node{}}
	if err := p.parseBlock(root); err != nil {
		return nil, err
	}
	return root, nil
}

type parser struct {
	s       *bufio.Scanner
	pending []rune
	eof     bool
}

func (p *parser) next() (rune, bool) {
	if len(p.pending) > 0 {
		r := p.pending[0]
		p.pending = p.pending[1:]
		return r, true
	}
	if p.eof {
		return 0, false
	}
	if !p.s.Scan() {
		p.eof = true
		return 0, false
	}
	return []rune(p.s.Text())[0], true
}

func (p *parser) unread(r rune) {
	p.pending = append([]rune{r}, p.pending...)
}

// skipSpaceAndComments consumes whitespace and "//"-to-end-of-line comments.
func (p *parser) skipSpaceAndComments() {
	for {
		r, ok := p.next()
		if !ok {
			return
		}
		switch {
		case r == ' ' || r == '\t' || r == '\r' || r == '\n':
			continue
		case r == '/':
			r2, ok2 := p.next()
			if ok2 && r2 == '/' {
				for {
					r3, ok3 := p.next()
					if !ok3 || r3 == '\n' {
						break
					}
				}
				continue
			}
			if ok2 {
				p.unread(r2)
			}
			p.unread(r)
			return
		default:
			p.unread(r)
			return
		}
	}
}

// readQuoted reads a double-quoted string, honoring backslash escapes.
func (p *parser) readQuoted() (string, error) {
	var b strings.Builder
	for {
		r, ok := p.next()
		if !ok {
			return "", fmt.Errorf("unterminated quoted string")
		}
		if r == '\\' {
			esc, ok := p.next()
			if !ok {
				return "", fmt.Errorf("unterminated escape sequence")
			}
			b.WriteRune(esc)
			continue
		}
		if r == '"' {
			return b.String(), nil
		}
		b.WriteRune(r)
	}
}

// parseBlock reads "key" "value" and "key" { ... } pairs until it hits an
// unmatched '}' or EOF, populating node.Children.
func (p *parser) parseBlock(node *Node) error {
	for {
		p.skipSpaceAndComments()
		r, ok := p.next()
		if !ok {
			return nil
		}
		if r == '}' {
			return nil
		}
		if r != '"' {
			return fmt.Errorf("expected quoted key, got %q", r)
		}

		key, err := p.readQuoted()
		if err != nil {
			return err
		}

		p.skipSpaceAndComments()
		r, ok = p.next()
		if !ok {
			return fmt.Errorf("unexpected EOF after key %q", key)
		}

		child := &Node{}
		switch r {
		case '"':
			value, err := p.readQuoted()
			if err != nil {
				return err
			}
			child.Value = value
		case '{':
			child.Children = map[string]*Node{}
			if err := p.parseBlock(child); err != nil {
				return err
			}
		default:
			return fmt.Errorf("expected '\"' or '{' after key %q, got %q", key, r)
		}

		node.Children[strings.ToLower(key)] = child
	}
}
