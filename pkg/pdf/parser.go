package pdf

import (
	"bytes"
	"fmt"
	"io"
	"math"
)

// lengthResolver resolves an indirect /Length entry of a stream
type lengthResolver func(ref Reference) (int64, bool)

// Parser parses PDF objects from tokens
type Parser struct {
	lexer   *Lexer
	tokens  []Token
	resolve lengthResolver
}

// NewParser creates a new parser for the given lexer
func NewParser(lexer *Lexer) *Parser {
	return &Parser{lexer: lexer}
}

// NewParserFromBytes creates a new parser from byte slice
func NewParserFromBytes(data []byte) *Parser {
	return NewParser(NewLexer(data))
}

// nextToken returns the next token, draining the lookahead buffer first
func (p *Parser) nextToken() (Token, error) {
	if len(p.tokens) > 0 {
		tok := p.tokens[0]
		p.tokens = p.tokens[1:]
		return tok, nil
	}
	return p.lexer.NextToken()
}

// peekTokenN peeks at the nth token ahead (0-indexed)
func (p *Parser) peekTokenN(n int) (Token, error) {
	for len(p.tokens) <= n {
		tok, err := p.lexer.NextToken()
		if err != nil {
			return Token{}, err
		}
		p.tokens = append(p.tokens, tok)
	}
	return p.tokens[n], nil
}

func (p *Parser) peekToken() (Token, error) {
	return p.peekTokenN(0)
}

// ParseObject parses a single direct object
func (p *Parser) ParseObject() (Object, error) {
	tok, err := p.nextToken()
	if err != nil {
		return nil, err
	}
	return p.objectFromToken(tok)
}

func (p *Parser) objectFromToken(tok Token) (Object, error) {
	switch tok.Type {
	case TokenEOF:
		return nil, io.EOF

	case TokenNull:
		return Null{}, nil

	case TokenBoolean:
		return Boolean(tok.Value.(bool)), nil

	case TokenInteger:
		// num gen R
		next1, err := p.peekTokenN(0)
		if err == nil && next1.Type == TokenInteger {
			next2, err := p.peekTokenN(1)
			if err == nil && next2.Type == TokenRef {
				p.tokens = p.tokens[2:]
				return Reference{
					ObjectNumber:     int(tok.Value.(int64)),
					GenerationNumber: int(next1.Value.(int64)),
				}, nil
			}
		}
		return Integer(tok.Value.(int64)), nil

	case TokenReal:
		return Real(tok.Value.(float64)), nil

	case TokenString:
		return String{Value: tok.Value.([]byte)}, nil

	case TokenHexString:
		return String{Value: tok.Value.([]byte), IsHex: true}, nil

	case TokenName:
		return Name(tok.Value.(string)), nil

	case TokenArrayStart:
		return p.parseArray()

	case TokenDictStart:
		return p.parseDictionary()

	default:
		return nil, fmt.Errorf("unexpected token %v at position %d", tok.Value, tok.Pos)
	}
}

// parseArray parses the body of an array after '['
func (p *Parser) parseArray() (Array, error) {
	arr := Array{}
	for {
		tok, err := p.nextToken()
		if err != nil {
			return nil, err
		}
		switch tok.Type {
		case TokenArrayEnd:
			return arr, nil
		case TokenEOF:
			return nil, fmt.Errorf("unterminated array at position %d", tok.Pos)
		}
		obj, err := p.objectFromToken(tok)
		if err != nil {
			return nil, err
		}
		arr = append(arr, obj)
	}
}

// parseDictionary parses the body of a dictionary after '<<'
func (p *Parser) parseDictionary() (Dictionary, error) {
	dict := make(Dictionary)
	for {
		keyTok, err := p.nextToken()
		if err != nil {
			return nil, err
		}
		switch keyTok.Type {
		case TokenDictEnd:
			return dict, nil
		case TokenName:
		case TokenEOF:
			return nil, fmt.Errorf("unterminated dictionary at position %d", keyTok.Pos)
		default:
			return nil, fmt.Errorf("expected name as dictionary key at position %d", keyTok.Pos)
		}

		value, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		// A null value is equivalent to an absent key.
		if _, isNull := value.(Null); !isNull {
			dict[Name(keyTok.Value.(string))] = value
		}
	}
}

// ParseIndirectObject parses "num gen obj ... endobj" at the current position
func (p *Parser) ParseIndirectObject() (int, int, Object, error) {
	numTok, err := p.nextToken()
	if err != nil {
		return 0, 0, nil, err
	}
	genTok, err := p.nextToken()
	if err != nil {
		return 0, 0, nil, err
	}
	objTok, err := p.nextToken()
	if err != nil {
		return 0, 0, nil, err
	}
	if numTok.Type != TokenInteger || genTok.Type != TokenInteger || objTok.Type != TokenObjStart {
		return 0, 0, nil, fmt.Errorf("expected object header at position %d", numTok.Pos)
	}
	objNum := int(numTok.Value.(int64))
	genNum := int(genTok.Value.(int64))

	obj, err := p.ParseObject()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("object %d %d: %w", objNum, genNum, err)
	}

	next, err := p.peekToken()
	if err == nil && next.Type == TokenStreamStart {
		dict, ok := obj.(Dictionary)
		if !ok {
			return 0, 0, nil, fmt.Errorf("stream without dictionary at position %d", next.Pos)
		}
		// The lexer must sit right after the keyword; drop the lookahead.
		p.tokens = nil
		p.lexer.Seek(next.Pos + int64(len("stream")))
		p.lexer.skipStreamEOL()

		data, err := p.readStreamData(dict)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("object %d %d: %w", objNum, genNum, err)
		}
		obj = Stream{Dictionary: dict, Data: data}
	}

	// endobj is frequently missing in damaged files; it is not required.
	return objNum, genNum, obj, nil
}

// readStreamData reads the raw bytes of a stream. When /Length is missing,
// indirect and unresolvable, or wrong, the data runs to the next endstream.
func (p *Parser) readStreamData(dict Dictionary) ([]byte, error) {
	length := int64(-1)
	switch l := dict.Get("Length").(type) {
	case Integer:
		length = int64(l)
	case Reference:
		if p.resolve != nil {
			if n, ok := p.resolve(l); ok {
				length = n
			}
		}
	}

	start := p.lexer.Position()
	if length >= 0 && start+length <= int64(len(p.lexer.data)) {
		p.lexer.Seek(start + length)
		p.lexer.skipWhitespace()
		if bytes.HasPrefix(p.lexer.data[p.lexer.pos:], []byte("endstream")) {
			p.lexer.pos += len("endstream")
			return p.lexer.data[start : start+length], nil
		}
		p.lexer.Seek(start)
	}
	return p.readStreamUntilEnd(start)
}

// readStreamUntilEnd scans for the endstream keyword
func (p *Parser) readStreamUntilEnd(start int64) ([]byte, error) {
	rest := p.lexer.data[start:]
	idx := bytes.Index(rest, []byte("endstream"))
	if idx < 0 {
		return nil, fmt.Errorf("stream at position %d has no endstream", start)
	}
	data := rest[:idx]
	// The EOL before endstream is not part of the data.
	if n := len(data); n > 0 && data[n-1] == '\n' {
		data = data[:n-1]
		if n := len(data); n > 0 && data[n-1] == '\r' {
			data = data[:n-1]
		}
	} else if n > 0 && data[n-1] == '\r' {
		data = data[:n-1]
	}
	p.lexer.Seek(start + int64(idx+len("endstream")))
	return data, nil
}

// Operation is one content stream operator with its operands
type Operation struct {
	Operator string
	Operands []Object
	// InlineImage is set for the BI operator: the image dictionary as
	// Stream.Dictionary and the bytes between ID and EI as Stream.Data.
	InlineImage *Stream
}

// ContentStreamParser splits a content stream into operations
type ContentStreamParser struct {
	parser *Parser
}

// NewContentStreamParser creates a new content stream parser
func NewContentStreamParser(data []byte) *ContentStreamParser {
	return &ContentStreamParser{parser: NewParserFromBytes(data)}
}

// ParseOperations parses all operations of the content stream
func (c *ContentStreamParser) ParseOperations() ([]Operation, error) {
	var ops []Operation
	var operands []Object
	p := c.parser

	for {
		tok, err := p.nextToken()
		if err != nil {
			return nil, err
		}
		switch tok.Type {
		case TokenEOF:
			return ops, nil
		case TokenKeyword:
			op := tok.Value.(string)
			if op == "BI" {
				img, err := c.parseInlineImage()
				if err != nil {
					return nil, err
				}
				ops = append(ops, Operation{Operator: "BI", InlineImage: img})
				operands = nil
				continue
			}
			ops = append(ops, Operation{Operator: op, Operands: operands})
			operands = nil
		case TokenArrayEnd, TokenDictEnd, TokenObjStart, TokenObjEnd,
			TokenStreamStart, TokenStreamEnd, TokenRef, TokenXRef, TokenTrailer, TokenStartXRef:
			// Stray structural keywords carry no meaning in content.
			operands = nil
		default:
			obj, err := p.objectFromToken(tok)
			if err != nil {
				return nil, err
			}
			operands = append(operands, obj)
		}
	}
}

// parseInlineImage reads "key value ... ID <data> EI" after BI
func (c *ContentStreamParser) parseInlineImage() (*Stream, error) {
	p := c.parser
	dict := make(Dictionary)
	for {
		tok, err := p.nextToken()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Value == "ID" {
			break
		}
		if tok.Type == TokenEOF {
			return nil, fmt.Errorf("inline image at position %d has no ID", tok.Pos)
		}
		if tok.Type != TokenName {
			return nil, fmt.Errorf("expected name in inline image dictionary at position %d", tok.Pos)
		}
		value, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		dict[Name(tok.Value.(string))] = value
	}

	// One whitespace byte separates ID from the data.
	p.tokens = nil
	lx := p.lexer
	if !lx.eof() && isWhitespace(lx.data[lx.pos]) {
		lx.pos++
	}
	start := lx.pos

	if n, ok := inlineImageLength(dict); ok && n > 0 && n <= len(lx.data)-start {
		end := start + n
		lx.pos = end
		lx.skipWhitespace()
		if bytes.HasPrefix(lx.data[lx.pos:], []byte("EI")) {
			lx.pos += 2
			return &Stream{Dictionary: dict, Data: lx.data[start:end]}, nil
		}
		lx.pos = start
	}

	// Look for EI surrounded by whitespace.
	for i := start; i+2 <= len(lx.data); i++ {
		if lx.data[i] != 'E' || lx.data[i+1] != 'I' {
			continue
		}
		if i > start && !isWhitespace(lx.data[i-1]) {
			continue
		}
		if i+2 < len(lx.data) && !isWhitespace(lx.data[i+2]) && !isDelimiter(lx.data[i+2]) {
			continue
		}
		end := i
		if end > start && isWhitespace(lx.data[end-1]) {
			end--
		}
		lx.pos = i + 2
		return &Stream{Dictionary: dict, Data: lx.data[start:end]}, nil
	}
	return nil, fmt.Errorf("inline image at position %d has no EI", start)
}

// inlineImageLength computes the data length of an unfiltered inline image
func inlineImageLength(dict Dictionary) (int, bool) {
	if dict.Get("F") != nil || dict.Get("Filter") != nil {
		return 0, false
	}
	w, okW := intEntry(dict, "W", "Width")
	h, okH := intEntry(dict, "H", "Height")
	if !okW || !okH {
		return 0, false
	}
	bpc, ok := intEntry(dict, "BPC", "BitsPerComponent")
	if !ok {
		bpc = 1
	}
	comps := 1
	if mask, _ := boolEntry(dict, "IM", "ImageMask"); !mask {
		cs := dict.Get("CS")
		if cs == nil {
			cs = dict.Get("ColorSpace")
		}
		if n, ok := cs.(Name); ok {
			switch n {
			case "RGB", "DeviceRGB":
				comps = 3
			case "CMYK", "DeviceCMYK":
				comps = 4
			case "G", "DeviceGray", "I", "Indexed":
				comps = 1
			default:
				return 0, false
			}
		} else if cs != nil {
			if arr, ok := cs.(Array); !ok || len(arr) == 0 || (arr[0] != Name("I") && arr[0] != Name("Indexed")) {
				return 0, false
			}
		}
	}
	if w <= 0 || h <= 0 || w > maxInlineSide || h > maxInlineSide || bpc <= 0 || bpc > 16 {
		return 0, false
	}
	rowBytes := (w*int64(comps)*bpc + 7) / 8
	n := rowBytes * h
	if n <= 0 || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

// maxInlineSide bounds inline image sides used to compute a data length
const maxInlineSide = 1 << 24

func intEntry(dict Dictionary, short, long string) (int64, bool) {
	if v, ok := dict.GetInt(short); ok {
		return v, true
	}
	return dict.GetInt(long)
}

func boolEntry(dict Dictionary, short, long string) (bool, bool) {
	if v, ok := dict.GetBool(short); ok {
		return v, true
	}
	return dict.GetBool(long)
}
