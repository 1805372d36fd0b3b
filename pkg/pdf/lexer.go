package pdf

import (
	"bytes"
	"fmt"
	"strconv"
)

// TokenType represents the type of a lexical token
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNull
	TokenBoolean
	TokenInteger
	TokenReal
	TokenString
	TokenHexString
	TokenName
	TokenArrayStart
	TokenArrayEnd
	TokenDictStart
	TokenDictEnd
	TokenStreamStart
	TokenStreamEnd
	TokenObjStart
	TokenObjEnd
	TokenRef
	TokenXRef
	TokenTrailer
	TokenStartXRef
	// TokenKeyword is any other bare word, such as a content stream operator
	TokenKeyword
)

// Token represents a lexical token
type Token struct {
	Type  TokenType
	Value interface{}
	Pos   int64
}

// Lexer splits PDF bytes into tokens. It works on an in-memory buffer so
// callers can jump to byte offsets and read raw stream data.
type Lexer struct {
	data []byte
	pos  int
}

// NewLexer creates a lexer over data
func NewLexer(data []byte) *Lexer {
	return &Lexer{data: data}
}

// Position returns the current offset
func (l *Lexer) Position() int64 {
	return int64(l.pos)
}

// Seek moves the lexer to an absolute offset
func (l *Lexer) Seek(pos int64) {
	switch {
	case pos < 0:
		l.pos = 0
	case pos > int64(len(l.data)):
		l.pos = len(l.data)
	default:
		l.pos = int(pos)
	}
}

func (l *Lexer) eof() bool { return l.pos >= len(l.data) }

// isWhitespace checks if a byte is PDF whitespace
func isWhitespace(b byte) bool {
	return b == 0 || b == '\t' || b == '\n' || b == '\f' || b == '\r' || b == ' '
}

// isDelimiter checks if a byte is a PDF delimiter
func isDelimiter(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// skipWhitespace skips whitespace and comments
func (l *Lexer) skipWhitespace() {
	for !l.eof() {
		b := l.data[l.pos]
		switch {
		case isWhitespace(b):
			l.pos++
		case b == '%':
			for !l.eof() && l.data[l.pos] != '\r' && l.data[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

// NextToken returns the next token
func (l *Lexer) NextToken() (Token, error) {
	l.skipWhitespace()
	pos := int64(l.pos)
	if l.eof() {
		return Token{Type: TokenEOF, Pos: pos}, nil
	}

	b := l.data[l.pos]
	switch b {
	case '[':
		l.pos++
		return Token{Type: TokenArrayStart, Pos: pos}, nil
	case ']':
		l.pos++
		return Token{Type: TokenArrayEnd, Pos: pos}, nil
	case '{', '}':
		// PostScript calculator braces only appear inside function streams.
		l.pos++
		return Token{Type: TokenKeyword, Value: string(b), Pos: pos}, nil
	case '(':
		l.pos++
		return l.readLiteralString(pos)
	case '<':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
			l.pos += 2
			return Token{Type: TokenDictStart, Pos: pos}, nil
		}
		l.pos++
		return l.readHexString(pos)
	case '>':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '>' {
			l.pos += 2
			return Token{Type: TokenDictEnd, Pos: pos}, nil
		}
		return Token{}, fmt.Errorf("unexpected '>' at position %d", pos)
	case ')':
		return Token{}, fmt.Errorf("unexpected ')' at position %d", pos)
	case '/':
		l.pos++
		return l.readName(pos)
	}

	if b == '+' || b == '-' || b == '.' || (b >= '0' && b <= '9') {
		return l.readNumber(pos)
	}
	return l.readKeyword(pos)
}

// readLiteralString reads a literal string (...)
func (l *Lexer) readLiteralString(pos int64) (Token, error) {
	var buf bytes.Buffer
	depth := 1

	for {
		if l.eof() {
			return Token{}, fmt.Errorf("unterminated string at position %d", pos)
		}
		b := l.data[l.pos]
		l.pos++

		switch b {
		case '(':
			depth++
			buf.WriteByte(b)
		case ')':
			depth--
			if depth == 0 {
				return Token{Type: TokenString, Value: buf.Bytes(), Pos: pos}, nil
			}
			buf.WriteByte(b)
		case '\\':
			l.readEscape(&buf)
		default:
			buf.WriteByte(b)
		}
	}
}

// readEscape decodes one backslash escape into buf
func (l *Lexer) readEscape(buf *bytes.Buffer) {
	if l.eof() {
		return
	}
	b := l.data[l.pos]
	l.pos++

	switch b {
	case 'n':
		buf.WriteByte('\n')
	case 'r':
		buf.WriteByte('\r')
	case 't':
		buf.WriteByte('\t')
	case 'b':
		buf.WriteByte('\b')
	case 'f':
		buf.WriteByte('\f')
	case '\r':
		if !l.eof() && l.data[l.pos] == '\n' {
			l.pos++
		}
	case '\n':
	default:
		if b >= '0' && b <= '7' {
			val := int(b - '0')
			for i := 0; i < 2 && !l.eof(); i++ {
				next := l.data[l.pos]
				if next < '0' || next > '7' {
					break
				}
				val = val*8 + int(next-'0')
				l.pos++
			}
			buf.WriteByte(byte(val))
			return
		}
		// \( \) \\ and unknown escapes yield the character itself
		buf.WriteByte(b)
	}
}

// readHexString reads a hexadecimal string <...>
func (l *Lexer) readHexString(pos int64) (Token, error) {
	end := bytes.IndexByte(l.data[l.pos:], '>')
	if end < 0 {
		return Token{}, fmt.Errorf("unterminated hex string at position %d", pos)
	}
	raw := l.data[l.pos : l.pos+end]
	l.pos += end + 1

	decoded, err := asciiHexDecode(raw)
	if err != nil {
		return Token{}, fmt.Errorf("invalid hex string at position %d: %w", pos, err)
	}
	return Token{Type: TokenHexString, Value: decoded, Pos: pos}, nil
}

// readName reads a name object; the leading slash is already consumed
func (l *Lexer) readName(pos int64) (Token, error) {
	var buf bytes.Buffer
	for !l.eof() {
		b := l.data[l.pos]
		if isWhitespace(b) || isDelimiter(b) {
			break
		}
		l.pos++
		if b == '#' && l.pos+1 < len(l.data) {
			hi, ok1 := hexValue(l.data[l.pos])
			lo, ok2 := hexValue(l.data[l.pos+1])
			if ok1 && ok2 {
				buf.WriteByte(hi<<4 | lo)
				l.pos += 2
				continue
			}
		}
		buf.WriteByte(b)
	}
	return Token{Type: TokenName, Value: buf.String(), Pos: pos}, nil
}

// readNumber reads an integer or real number
func (l *Lexer) readNumber(pos int64) (Token, error) {
	start := l.pos
	hasDecimal := false
	hasDigit := false

scan:
	for !l.eof() {
		b := l.data[l.pos]
		switch {
		case (b == '+' || b == '-') && l.pos == start:
		case b == '.' && !hasDecimal:
			hasDecimal = true
		case b >= '0' && b <= '9':
			hasDigit = true
		default:
			break scan
		}
		l.pos++
	}
	str := string(l.data[start:l.pos])
	if !hasDigit {
		// A lone sign or dot: treat as zero, as viewers do.
		return Token{Type: TokenInteger, Value: int64(0), Pos: pos}, nil
	}
	if hasDecimal {
		val, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return Token{}, fmt.Errorf("invalid real number %q at position %d", str, pos)
		}
		return Token{Type: TokenReal, Value: val, Pos: pos}, nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(str, 64)
		if ferr != nil {
			return Token{}, fmt.Errorf("invalid integer %q at position %d", str, pos)
		}
		return Token{Type: TokenReal, Value: f, Pos: pos}, nil
	}
	return Token{Type: TokenInteger, Value: val, Pos: pos}, nil
}

// readKeyword reads a bare word (true, false, null, obj, operators, ...)
func (l *Lexer) readKeyword(pos int64) (Token, error) {
	start := l.pos
	for !l.eof() {
		b := l.data[l.pos]
		if isWhitespace(b) || isDelimiter(b) {
			break
		}
		l.pos++
	}

	keyword := string(l.data[start:l.pos])
	switch keyword {
	case "true":
		return Token{Type: TokenBoolean, Value: true, Pos: pos}, nil
	case "false":
		return Token{Type: TokenBoolean, Value: false, Pos: pos}, nil
	case "null":
		return Token{Type: TokenNull, Pos: pos}, nil
	case "obj":
		return Token{Type: TokenObjStart, Pos: pos}, nil
	case "endobj":
		return Token{Type: TokenObjEnd, Pos: pos}, nil
	case "stream":
		return Token{Type: TokenStreamStart, Pos: pos}, nil
	case "endstream":
		return Token{Type: TokenStreamEnd, Pos: pos}, nil
	case "R":
		return Token{Type: TokenRef, Pos: pos}, nil
	case "xref":
		return Token{Type: TokenXRef, Pos: pos}, nil
	case "trailer":
		return Token{Type: TokenTrailer, Pos: pos}, nil
	case "startxref":
		return Token{Type: TokenStartXRef, Pos: pos}, nil
	}
	return Token{Type: TokenKeyword, Value: keyword, Pos: pos}, nil
}

// ReadLine reads until end of line and consumes the line terminator
func (l *Lexer) ReadLine() []byte {
	start := l.pos
	for !l.eof() {
		b := l.data[l.pos]
		if b == '\r' || b == '\n' {
			line := l.data[start:l.pos]
			l.pos++
			if b == '\r' && !l.eof() && l.data[l.pos] == '\n' {
				l.pos++
			}
			return line
		}
		l.pos++
	}
	return l.data[start:]
}

// ReadBytes returns the next n bytes, or fewer at end of data
func (l *Lexer) ReadBytes(n int) []byte {
	end := l.pos + n
	if n < 0 || end > len(l.data) {
		end = len(l.data)
	}
	b := l.data[l.pos:end]
	l.pos = end
	return b
}

// skipStreamEOL skips the end-of-line marker after the stream keyword
func (l *Lexer) skipStreamEOL() {
	if l.eof() {
		return
	}
	switch l.data[l.pos] {
	case '\r':
		l.pos++
		if !l.eof() && l.data[l.pos] == '\n' {
			l.pos++
		}
	case '\n':
		l.pos++
	}
}
