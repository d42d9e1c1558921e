package mind

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jcmrest/jcmrest/core"
)

// ParseError reports malformed agent language text.
type ParseError struct {
	Offset  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Message)
}

// Unwrap lets errors.Is(err, core.ErrParse) hold.
func (e *ParseError) Unwrap() error {
	return core.ErrParse
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokAtom
	tokVar
	tokNumber
	tokString
	tokAction // .name
	tokPunct
)

type token struct {
	kind tokenKind
	val  string
	num  float64
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokString:
		return strconv.Quote(t.val)
	}
	return fmt.Sprintf("%q", t.val)
}

// Longest operators first.
var puncts = []string{
	"\\==", "<-", ":-", "==", "<=", ">=", "-+", "!!", "**",
	"(", ")", "[", "]", ",", ";", ".", "|", "&", ":", "!", "?",
	"+", "-", "*", "/", "=", "<", ">", "~", "@",
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
			continue
		case strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				i++
			}
			continue
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, &ParseError{Offset: i, Message: "unterminated comment"}
			}
			i += end + 4
			continue
		}

		start := i
		r, size := utf8.DecodeRuneInString(src[i:])

		switch {
		case c == '.' && i+1 < len(src) && isLower(src[i+1]) && actionAllowedAfter(toks):
			i++
			for i < len(src) && isIdent(src[i]) {
				i++
			}
			toks = append(toks, token{kind: tokAction, val: src[start:i], pos: start})

		case isDigit(c):
			i = scanNumber(src, i)
			f, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, &ParseError{Offset: start, Message: "invalid number " + src[start:i]}
			}
			toks = append(toks, token{kind: tokNumber, val: src[start:i], num: f, pos: start})

		case c == '"':
			end, err := scanQuoted(src, i, '"')
			if err != nil {
				return nil, err
			}
			s, uerr := strconv.Unquote(src[i:end])
			if uerr != nil {
				return nil, &ParseError{Offset: start, Message: "invalid string literal"}
			}
			toks = append(toks, token{kind: tokString, val: s, pos: start})
			i = end

		case c == '\'':
			end, err := scanQuoted(src, i, '\'')
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokAtom, val: src[i+1 : end-1], pos: start})
			i = end

		case unicode.IsLetter(r) || c == '_':
			i += size
			for i < len(src) && isIdent(src[i]) {
				i++
			}
			word := src[start:i]
			kind := tokAtom
			if c == '_' || unicode.IsUpper(r) {
				kind = tokVar
			}
			toks = append(toks, token{kind: kind, val: word, pos: start})

		default:
			matched := ""
			for _, p := range puncts {
				if strings.HasPrefix(src[i:], p) {
					matched = p
					break
				}
			}
			if matched == "" {
				return nil, &ParseError{Offset: start, Message: fmt.Sprintf("unexpected character %q", r)}
			}
			toks = append(toks, token{kind: tokPunct, val: matched, pos: start})
			i += len(matched)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

// actionAllowedAfter tells whether a '.' followed by a letter starts an
// internal action rather than ending a clause.
func actionAllowedAfter(toks []token) bool {
	if len(toks) == 0 {
		return true
	}
	last := toks[len(toks)-1]
	if last.kind != tokPunct {
		return false
	}
	switch last.val {
	case ";", "<-", ":", "&", ",", "(", "[", "|":
		return true
	}
	return false
}

func scanNumber(src string, i int) int {
	for i < len(src) && isDigit(src[i]) {
		i++
	}
	if i+1 < len(src) && src[i] == '.' && isDigit(src[i+1]) {
		i++
		for i < len(src) && isDigit(src[i]) {
			i++
		}
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && isDigit(src[j]) {
			i = j
			for i < len(src) && isDigit(src[i]) {
				i++
			}
		}
	}
	return i
}

func scanQuoted(src string, i int, quote byte) (int, error) {
	j := i + 1
	for j < len(src) {
		switch src[j] {
		case '\\':
			j += 2
			continue
		case quote:
			return j + 1, nil
		}
		j++
	}
	return 0, &ParseError{Offset: i, Message: "unterminated quoted text"}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isLower(c byte) bool { return c >= 'a' && c <= 'z' }
func isIdent(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
