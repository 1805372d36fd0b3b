// Package pdf reads just enough of a PDF file to enumerate the images
// painted on a page: objects, cross-reference data, the page tree, stream
// filters and the standard security handler.
package pdf

import (
	"fmt"
	"strconv"
	"strings"
)

// ObjectType represents the type of a PDF object
type ObjectType int

const (
	ObjNull ObjectType = iota
	ObjBoolean
	ObjInteger
	ObjReal
	ObjString
	ObjName
	ObjArray
	ObjDictionary
	ObjStream
	ObjReference
)

// Object represents a PDF object
type Object interface {
	Type() ObjectType
	String() string
}

// Null represents a PDF null object
type Null struct{}

func (n Null) Type() ObjectType { return ObjNull }
func (n Null) String() string   { return "null" }

// Boolean represents a PDF boolean object
type Boolean bool

func (b Boolean) Type() ObjectType { return ObjBoolean }
func (b Boolean) String() string   { return strconv.FormatBool(bool(b)) }

// Integer represents a PDF integer object
type Integer int64

func (i Integer) Type() ObjectType { return ObjInteger }
func (i Integer) String() string   { return strconv.FormatInt(int64(i), 10) }

// Real represents a PDF real number object
type Real float64

func (r Real) Type() ObjectType { return ObjReal }
func (r Real) String() string   { return strconv.FormatFloat(float64(r), 'f', -1, 64) }

// String represents a PDF string object
type String struct {
	Value []byte
	IsHex bool
}

func (s String) Type() ObjectType { return ObjString }
func (s String) String() string {
	if s.IsHex {
		return fmt.Sprintf("<%X>", s.Value)
	}
	return fmt.Sprintf("(%s)", string(s.Value))
}

// Name represents a PDF name object
type Name string

func (n Name) Type() ObjectType { return ObjName }
func (n Name) String() string   { return "/" + string(n) }

// Array represents a PDF array object
type Array []Object

func (a Array) Type() ObjectType { return ObjArray }
func (a Array) String() string {
	parts := make([]string, 0, len(a))
	for _, obj := range a {
		parts = append(parts, obj.String())
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Dictionary represents a PDF dictionary object
type Dictionary map[Name]Object

func (d Dictionary) Type() ObjectType { return ObjDictionary }
func (d Dictionary) String() string {
	var parts []string
	for k, v := range d {
		parts = append(parts, k.String()+" "+v.String())
	}
	return "<<" + strings.Join(parts, " ") + ">>"
}

// Get returns the raw value for a key. References are not followed.
func (d Dictionary) Get(key string) Object {
	return d[Name(key)]
}

// GetName returns the name value for a key
func (d Dictionary) GetName(key string) (Name, bool) {
	n, ok := d.Get(key).(Name)
	return n, ok
}

// GetInt returns the integer value for a key
func (d Dictionary) GetInt(key string) (int64, bool) {
	switch v := d.Get(key).(type) {
	case Integer:
		return int64(v), true
	case Real:
		return int64(v), true
	}
	return 0, false
}

// GetBool returns the boolean value for a key
func (d Dictionary) GetBool(key string) (bool, bool) {
	b, ok := d.Get(key).(Boolean)
	return bool(b), ok
}

// GetArray returns the array value for a key
func (d Dictionary) GetArray(key string) (Array, bool) {
	a, ok := d.Get(key).(Array)
	return a, ok
}

// GetDict returns the dictionary value for a key
func (d Dictionary) GetDict(key string) (Dictionary, bool) {
	dict, ok := d.Get(key).(Dictionary)
	return dict, ok
}

// Stream represents a PDF stream object. Data holds the bytes between the
// stream and endstream keywords, already decrypted when the document is
// encrypted.
type Stream struct {
	Dictionary Dictionary
	Data       []byte
}

func (s Stream) Type() ObjectType { return ObjStream }
func (s Stream) String() string {
	return s.Dictionary.String() + " stream...endstream"
}

// Filters returns the filter chain of the stream together with the decode
// parameters that belong to each filter.
func (s Stream) Filters() ([]Name, []Dictionary) {
	return filterChain(s.Dictionary, "Filter", "DecodeParms")
}

// Decode applies every filter of the stream. Image codecs (DCT, JPX,
// JBIG2, CCITT) are not decoded here; decoding stops with
// ErrUnsupportedFilter if one of them appears in the chain.
func (s Stream) Decode() ([]byte, error) {
	data, rest, _, err := s.decodeTransport()
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, rest[0])
	}
	return data, nil
}

// decodeTransport applies the leading transport filters (Flate, LZW,
// ASCIIHex, ASCII85, RunLength) and returns the remaining, undecoded part of
// the chain with its parameters.
func (s Stream) decodeTransport() ([]byte, []Name, []Dictionary, error) {
	filters, params := s.Filters()
	return decodeChain(s.Data, filters, params)
}

// decodeChain applies filters up to the first image codec
func decodeChain(data []byte, filters []Name, params []Dictionary) ([]byte, []Name, []Dictionary, error) {
	for i, filter := range filters {
		if isImageCodec(filter) {
			return data, filters[i:], params[i:], nil
		}
		var err error
		data, err = applyFilter(data, filter, params[i])
		if err != nil {
			return nil, nil, nil, fmt.Errorf("filter %s: %w", filter, err)
		}
	}
	return data, nil, nil, nil
}

// filterChain reads a filter entry (name or array) and the matching decode
// parameters (dictionary, array or absent).
func filterChain(dict Dictionary, filterKey, paramsKey string) ([]Name, []Dictionary) {
	var filters []Name
	switch f := dict.Get(filterKey).(type) {
	case Name:
		filters = []Name{f}
	case Array:
		for _, item := range f {
			if n, ok := item.(Name); ok {
				filters = append(filters, n)
			}
		}
	}

	params := make([]Dictionary, len(filters))
	switch p := dict.Get(paramsKey).(type) {
	case Dictionary:
		if len(params) > 0 {
			params[0] = p
		}
	case Array:
		for i, item := range p {
			if i >= len(params) {
				break
			}
			if d, ok := item.(Dictionary); ok {
				params[i] = d
			}
		}
	}
	for i := range params {
		if params[i] == nil {
			params[i] = Dictionary{}
		}
	}
	return filters, params
}

// Reference represents a PDF indirect object reference
type Reference struct {
	ObjectNumber     int
	GenerationNumber int
}

func (r Reference) Type() ObjectType { return ObjReference }
func (r Reference) String() string {
	return fmt.Sprintf("%d %d R", r.ObjectNumber, r.GenerationNumber)
}

// objectToFloat converts a PDF number to float64
func objectToFloat(obj Object) float64 {
	switch v := obj.(type) {
	case Integer:
		return float64(v)
	case Real:
		return float64(v)
	}
	return 0
}
