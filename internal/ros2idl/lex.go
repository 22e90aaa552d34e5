package ros2idl

import (
	"fmt"
	"strings"
)

// strip removes the parts of an IDL source the parser never sees: comments,
// preprocessor lines, and @annotations. Stripped characters become spaces so
// line numbers survive for diagnostics.
func strip(src string) (string, error) {
	b := []byte(src)
	out := make([]byte, len(b))
	copy(out, b)
	line := 1
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == '/' && i+1 < len(b) && b[i+1] == '/':
			for i < len(b) && b[i] != '\n' {
				out[i] = ' '
				i++
			}
		case c == '/' && i+1 < len(b) && b[i+1] == '*':
			start := line
			j := i + 2
			for {
				if j+1 >= len(b) {
					return "", fmt.Errorf("line %d: unterminated block comment", start)
				}
				if b[j] == '\n' {
					line++
				}
				if b[j] == '*' && b[j+1] == '/' {
					break
				}
				j++
			}
			blank(out, i, j+2)
			i = j + 2
		case c == '"':
			j, err := skipString(b, i, line)
			if err != nil {
				return "", err
			}
			i = j
		case c == '#' && atLineStart(b, i):
			for i < len(b) && b[i] != '\n' {
				out[i] = ' '
				i++
			}
		case c == '@':
			j, err := skipAnnotation(b, i, &line)
			if err != nil {
				return "", err
			}
			blank(out, i, j)
			i = j
		default:
			i++
		}
	}
	return string(out), nil
}

func blank(out []byte, from, to int) {
	for k := from; k < to; k++ {
		if out[k] != '\n' {
			out[k] = ' '
		}
	}
}

func atLineStart(b []byte, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch b[j] {
		case ' ', '\t':
			continue
		case '\n':
			return true
		default:
			return false
		}
	}
	return true
}

func skipString(b []byte, i, line int) (int, error) {
	j := i + 1
	for j < len(b) {
		switch b[j] {
		case '\\':
			j += 2
		case '"':
			return j + 1, nil
		case '\n':
			return 0, fmt.Errorf("line %d: unterminated string literal", line)
		default:
			j++
		}
	}
	return 0, fmt.Errorf("line %d: unterminated string literal", line)
}

// skipAnnotation consumes "@name" plus an optional balanced parenthesized
// argument list. Parentheses and semicolons inside string arguments do not
// count, so @verbatim comments cannot derail the scan.
func skipAnnotation(b []byte, i int, line *int) (int, error) {
	start := *line
	j := i + 1
	for j < len(b) && (isIdentByte(b[j]) || b[j] == ':') {
		j++
	}
	k := j
	for k < len(b) && (b[k] == ' ' || b[k] == '\t') {
		k++
	}
	if k >= len(b) || b[k] != '(' {
		return j, nil
	}
	depth := 0
	for k < len(b) {
		switch b[k] {
		case '(':
			depth++
			k++
		case ')':
			depth--
			k++
			if depth == 0 {
				return k, nil
			}
		case '"':
			n, err := skipString(b, k, *line)
			if err != nil {
				return 0, err
			}
			k = n
		case '\n':
			*line++
			k++
		default:
			k++
		}
	}
	return 0, fmt.Errorf("line %d: unterminated annotation", start)
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// token kinds
const (
	tokIdent = iota
	tokNumber
	tokString
	tokPunct // single-character punctuation
	tokScope // "::"
	tokEOF
)

type token struct {
	kind int
	text string
	line int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.text)
}

func tokenize(src string) ([]token, error) {
	var toks []token
	line := 1
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case isIdentByte(c) && !(c >= '0' && c <= '9'):
			j := i
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j], line: line})
			i = j
		case c >= '0' && c <= '9', c == '-' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			j := i + 1
			for j < len(src) && (isIdentByte(src[j]) || src[j] == '.' || src[j] == '+' || src[j] == '-') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j], line: line})
			i = j
		case c == '"':
			j, err := skipString([]byte(src), i, line)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: src[i:j], line: line})
			i = j
		case c == ':' && i+1 < len(src) && src[i+1] == ':':
			toks = append(toks, token{kind: tokScope, text: "::", line: line})
			i += 2
		case strings.ContainsRune("{};<>,[]()=:'", rune(c)):
			toks = append(toks, token{kind: tokPunct, text: string(c), line: line})
			i++
		default:
			return nil, fmt.Errorf("line %d: unexpected character %q", line, c)
		}
	}
	toks = append(toks, token{kind: tokEOF, line: line})
	return toks, nil
}
