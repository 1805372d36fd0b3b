package pdf

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
)

// Document represents an opened PDF document
type Document struct {
	data    []byte
	Version string
	Trailer Dictionary
	Root    Dictionary
	Pages   []*Page

	objects  map[int]Object
	xref     map[int]xrefEntry
	rebuilt  bool
	loading  map[int]bool
	security *SecurityHandler
}

// xrefEntry represents an entry in the cross-reference table
type xrefEntry struct {
	Offset     int64
	Generation int
	InUse      bool
	// Set for objects stored in an object stream
	StreamObjNum int
	Index        int
}

// Page represents a PDF page
type Page struct {
	doc        *Document
	Dictionary Dictionary
	// Index is the zero-based position in the page tree
	Index     int
	Resources Dictionary
}

// OpenOption configures how a document is opened
type OpenOption func(*openOptions)

type openOptions struct {
	password    string
	hasPassword bool
}

// WithPassword sets the user or owner password of an encrypted document
func WithPassword(password string) OpenOption {
	return func(o *openOptions) {
		o.password = password
		o.hasPassword = true
	}
}

// Open opens a PDF file
func Open(filename string, opts ...OpenOption) (*Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return NewDocument(data, opts...)
}

// NewDocument creates a new document from PDF data
func NewDocument(data []byte, opts ...OpenOption) (*Document, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	doc := &Document{
		objects: make(map[int]Object),
		xref:    make(map[int]xrefEntry),
		loading: make(map[int]bool),
	}

	// Some producers put junk before the header; offsets are relative to it.
	header := bytes.Index(data[:min(len(data), 1024)], []byte("%PDF-"))
	if header < 0 {
		return nil, ErrNotPDF
	}
	doc.data = data[header:]

	if err := doc.parse(o); err != nil {
		return nil, err
	}
	return doc, nil
}

// parse reads the cross-reference data, the catalog and the page tree
func (d *Document) parse(o openOptions) error {
	line := NewLexer(d.data[5:]).ReadLine()
	d.Version = string(bytes.TrimSpace(line))

	startxref, err := d.findStartXRef()
	if err == nil {
		err = d.parseXRef(startxref, make(map[int64]bool))
	}
	if err != nil || d.Trailer.Get("Root") == nil {
		if rerr := d.reconstruct(); rerr != nil {
			return fmt.Errorf("%w: %v", ErrNotPDF, rerr)
		}
	}

	if d.Trailer.Get("Encrypt") != nil {
		if err := d.unlock(o); err != nil {
			return err
		}
	}

	root, ok := d.resolveDict(d.Trailer.Get("Root"))
	if !ok {
		return fmt.Errorf("%w: missing document catalog", ErrNotPDF)
	}
	d.Root = root

	return d.parsePages()
}

// unlock authenticates against the standard security handler
func (d *Document) unlock(o openOptions) error {
	sh, err := ParseEncryption(d)
	if err != nil {
		return err
	}
	if sh.Authenticate(o.password) {
		d.security = sh
		// Anything loaded so far was read without decryption.
		d.objects = make(map[int]Object)
		return nil
	}
	if o.hasPassword {
		return ErrBadPassword
	}
	return ErrPasswordRequired
}

// findStartXRef finds the startxref offset near the end of the file
func (d *Document) findStartXRef() (int64, error) {
	tail := d.data[max(0, len(d.data)-2048):]
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, fmt.Errorf("startxref not found")
	}

	lx := NewLexer(tail[idx+len("startxref"):])
	tok, err := lx.NextToken()
	if err != nil || tok.Type != TokenInteger {
		return 0, fmt.Errorf("invalid startxref offset")
	}
	return tok.Value.(int64), nil
}

// parseXRef parses the cross-reference section at offset and its /Prev chain
func (d *Document) parseXRef(offset int64, seen map[int64]bool) error {
	if offset < 0 || offset >= int64(len(d.data)) {
		return fmt.Errorf("xref offset %d out of range", offset)
	}
	if seen[offset] {
		return nil
	}
	seen[offset] = true

	lx := NewLexer(d.data)
	lx.Seek(offset)
	lx.skipWhitespace()
	if bytes.HasPrefix(d.data[lx.pos:], []byte("xref")) {
		return d.parseXRefTable(lx, seen)
	}
	return d.parseXRefStream(lx.Position(), seen)
}

// parseXRefTable parses a classic xref table and its trailer
func (d *Document) parseXRefTable(lx *Lexer, seen map[int64]bool) error {
	lx.ReadLine() // xref

	for {
		lx.skipWhitespace()
		if lx.eof() {
			return fmt.Errorf("xref table without trailer")
		}
		if bytes.HasPrefix(d.data[lx.pos:], []byte("trailer")) {
			lx.pos += len("trailer")
			break
		}

		fields := bytes.Fields(lx.ReadLine())
		if len(fields) != 2 {
			return fmt.Errorf("malformed xref subsection header at position %d", lx.pos)
		}
		start, err1 := strconv.Atoi(string(fields[0]))
		count, err2 := strconv.Atoi(string(fields[1]))
		if err1 != nil || err2 != nil || count < 0 {
			return fmt.Errorf("malformed xref subsection header at position %d", lx.pos)
		}

		for i := 0; i < count; i++ {
			lx.skipWhitespace()
			entry := bytes.Fields(lx.ReadLine())
			if len(entry) < 3 {
				return fmt.Errorf("malformed xref entry for object %d", start+i)
			}
			entryOffset, _ := strconv.ParseInt(string(entry[0]), 10, 64)
			gen, _ := strconv.Atoi(string(entry[1]))

			// Newer sections are read first and win.
			objNum := start + i
			if _, exists := d.xref[objNum]; !exists {
				d.xref[objNum] = xrefEntry{
					Offset:     entryOffset,
					Generation: gen,
					InUse:      entry[2][0] == 'n',
				}
			}
		}
	}

	trailerObj, err := NewParser(lx).ParseObject()
	if err != nil {
		return fmt.Errorf("trailer: %w", err)
	}
	trailer, ok := trailerObj.(Dictionary)
	if !ok {
		return fmt.Errorf("trailer is not a dictionary")
	}
	d.mergeTrailer(trailer)

	// Hybrid files keep compressed objects in an additional xref stream.
	if stm, ok := trailer.GetInt("XRefStm"); ok {
		if err := d.parseXRef(stm, seen); err != nil {
			return err
		}
	}
	if prev, ok := trailer.GetInt("Prev"); ok {
		return d.parseXRef(prev, seen)
	}
	return nil
}

// mergeTrailer keeps keys from newer trailers over older ones
func (d *Document) mergeTrailer(trailer Dictionary) {
	if d.Trailer == nil {
		d.Trailer = make(Dictionary)
	}
	for k, v := range trailer {
		if _, exists := d.Trailer[k]; !exists {
			d.Trailer[k] = v
		}
	}
}

// parseXRefStream parses a cross-reference stream
func (d *Document) parseXRefStream(offset int64, seen map[int64]bool) error {
	lx := NewLexer(d.data)
	lx.Seek(offset)
	_, _, obj, err := NewParser(lx).ParseIndirectObject()
	if err != nil {
		return err
	}
	stream, ok := obj.(Stream)
	if !ok {
		return fmt.Errorf("xref stream expected at offset %d", offset)
	}
	data, err := stream.Decode()
	if err != nil {
		return fmt.Errorf("xref stream: %w", err)
	}

	wArray, ok := stream.Dictionary.GetArray("W")
	if !ok || len(wArray) != 3 {
		return fmt.Errorf("invalid xref stream W array")
	}
	var w [3]int
	for i, obj := range wArray {
		n, ok := obj.(Integer)
		if !ok || n < 0 || n > 8 {
			return fmt.Errorf("invalid xref stream W array")
		}
		w[i] = int(n)
	}

	var indices []int
	if indexArray, ok := stream.Dictionary.GetArray("Index"); ok {
		for _, obj := range indexArray {
			if n, ok := obj.(Integer); ok {
				indices = append(indices, int(n))
			}
		}
	} else if size, ok := stream.Dictionary.GetInt("Size"); ok {
		indices = []int{0, int(size)}
	}

	entrySize := w[0] + w[1] + w[2]
	pos := 0
	for i := 0; i+1 < len(indices); i += 2 {
		start, count := indices[i], indices[i+1]
		for j := 0; j < count && pos+entrySize <= len(data); j++ {
			entry := data[pos : pos+entrySize]
			pos += entrySize

			entryType := readXRefField(entry, 0, w[0])
			if w[0] == 0 {
				entryType = 1
			}
			field2 := readXRefField(entry, w[0], w[1])
			field3 := readXRefField(entry, w[0]+w[1], w[2])

			objNum := start + j
			if _, exists := d.xref[objNum]; exists {
				continue
			}
			switch entryType {
			case 0:
				d.xref[objNum] = xrefEntry{}
			case 1:
				d.xref[objNum] = xrefEntry{Offset: int64(field2), Generation: field3, InUse: true}
			case 2:
				d.xref[objNum] = xrefEntry{StreamObjNum: field2, Index: field3, InUse: true}
			}
		}
	}

	d.mergeTrailer(stream.Dictionary)

	if prev, ok := stream.Dictionary.GetInt("Prev"); ok {
		return d.parseXRef(prev, seen)
	}
	return nil
}

// readXRefField reads a big-endian field from an xref stream entry
func readXRefField(data []byte, offset, width int) int {
	result := 0
	for i := 0; i < width; i++ {
		result = result<<8 | int(data[offset+i])
	}
	return result
}

var objHeader = regexp.MustCompile(`(?m)(?:^|[\r\n\s])(\d+)[ \t\r\n]+(\d+)[ \t\r\n]+obj\b`)

// reconstruct rebuilds the xref by scanning for "N G obj" headers. Later
// definitions of an object replace earlier ones, as with incremental updates.
func (d *Document) reconstruct() error {
	d.rebuilt = true
	d.xref = make(map[int]xrefEntry)
	d.objects = make(map[int]Object)

	for _, m := range objHeader.FindAllSubmatchIndex(d.data, -1) {
		num, err1 := strconv.Atoi(string(d.data[m[2]:m[3]]))
		gen, err2 := strconv.Atoi(string(d.data[m[4]:m[5]]))
		if err1 != nil || err2 != nil {
			continue
		}
		d.xref[num] = xrefEntry{Offset: int64(m[2]), Generation: gen, InUse: true}
	}
	if len(d.xref) == 0 {
		return fmt.Errorf("no objects found")
	}

	if d.Trailer == nil {
		d.Trailer = make(Dictionary)
	}
	// Trailers found anywhere in the file still carry Root, Encrypt and ID.
	for idx := 0; ; {
		found := bytes.Index(d.data[idx:], []byte("trailer"))
		if found < 0 {
			break
		}
		idx += found + len("trailer")
		if obj, err := NewParserFromBytes(d.data[idx:]).ParseObject(); err == nil {
			if dict, ok := obj.(Dictionary); ok {
				for k, v := range dict {
					d.Trailer[k] = v
				}
			}
		}
	}
	// Object streams may hold objects the scan cannot see.
	nums := make([]int, 0, len(d.xref))
	for num := range d.xref {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	for _, num := range nums {
		obj, err := d.GetObject(num)
		if err != nil {
			continue
		}
		stream, ok := obj.(Stream)
		if !ok {
			continue
		}
		switch t, _ := stream.Dictionary.GetName("Type"); t {
		case "ObjStm":
			d.indexObjectStream(num, stream)
		case "XRef":
			for _, key := range []string{"Root", "Encrypt", "ID", "Info"} {
				if v := stream.Dictionary.Get(key); v != nil && d.Trailer.Get(key) == nil {
					d.Trailer[Name(key)] = v
				}
			}
		}
	}

	if d.Trailer.Get("Root") == nil {
		for _, num := range nums {
			obj, err := d.GetObject(num)
			if err != nil {
				continue
			}
			if dict, ok := obj.(Dictionary); ok {
				if t, _ := dict.GetName("Type"); t == "Catalog" {
					d.Trailer[Name("Root")] = Reference{ObjectNumber: num}
					break
				}
			}
		}
	}
	return nil
}

// indexObjectStream registers the objects of an object stream in the xref
func (d *Document) indexObjectStream(streamNum int, stream Stream) {
	data, err := stream.Decode()
	if err != nil {
		return
	}
	first, _ := stream.Dictionary.GetInt("First")
	n, _ := stream.Dictionary.GetInt("N")
	if first <= 0 || first > int64(len(data)) {
		return
	}
	p := NewParserFromBytes(data[:first])
	for i := 0; i < int(n); i++ {
		numObj, err1 := p.ParseObject()
		_, err2 := p.ParseObject()
		if err1 != nil || err2 != nil {
			return
		}
		if num, ok := numObj.(Integer); ok {
			if _, exists := d.xref[int(num)]; !exists {
				d.xref[int(num)] = xrefEntry{StreamObjNum: streamNum, Index: i, InUse: true}
			}
		}
	}
}

// ResolveObject follows a reference; other objects are returned unchanged
func (d *Document) ResolveObject(obj Object) (Object, error) {
	ref, ok := obj.(Reference)
	if !ok {
		return obj, nil
	}
	return d.GetObject(ref.ObjectNumber)
}

// resolveDict resolves obj and reports whether it is a dictionary
func (d *Document) resolveDict(obj Object) (Dictionary, bool) {
	resolved, err := d.ResolveObject(obj)
	if err != nil {
		return nil, false
	}
	dict, ok := resolved.(Dictionary)
	return dict, ok
}

// GetObject returns the object with the given number. Missing or free
// objects resolve to null.
func (d *Document) GetObject(objNum int) (Object, error) {
	if obj, ok := d.objects[objNum]; ok {
		return obj, nil
	}
	entry, ok := d.xref[objNum]
	if !ok || !entry.InUse {
		return Null{}, nil
	}
	if d.loading[objNum] {
		return nil, fmt.Errorf("object %d refers to itself", objNum)
	}
	d.loading[objNum] = true
	defer delete(d.loading, objNum)

	var obj Object
	var err error
	if entry.StreamObjNum > 0 {
		obj, err = d.getCompressedObject(entry.StreamObjNum, entry.Index)
	} else {
		obj, err = d.getUncompressedObject(objNum, entry)
	}
	if err != nil && !d.rebuilt {
		// A stale xref is the usual culprit; scan the file once and retry.
		if rerr := d.reconstruct(); rerr == nil {
			delete(d.loading, objNum)
			return d.GetObject(objNum)
		}
	}
	if err != nil {
		return nil, err
	}

	d.objects[objNum] = obj
	return obj, nil
}

// getUncompressedObject parses an object at its xref offset
func (d *Document) getUncompressedObject(objNum int, entry xrefEntry) (Object, error) {
	if entry.Offset <= 0 || entry.Offset >= int64(len(d.data)) {
		return nil, fmt.Errorf("object %d: offset %d out of range", objNum, entry.Offset)
	}
	lx := NewLexer(d.data)
	lx.Seek(entry.Offset)
	p := NewParser(lx)
	p.resolve = d.resolveLength

	num, gen, obj, err := p.ParseIndirectObject()
	if err != nil {
		return nil, err
	}
	if num != objNum {
		return nil, fmt.Errorf("xref points object %d at object %d", objNum, num)
	}

	if d.security != nil && !d.isEncryptDict(objNum) {
		if obj, err = d.decryptObject(obj, num, gen); err != nil {
			return nil, fmt.Errorf("object %d: %w", objNum, err)
		}
	}
	if stream, ok := obj.(Stream); ok {
		stream.Dictionary = d.resolveFilterEntries(stream.Dictionary)
		obj = stream
	}
	return obj, nil
}

// decryptObject decrypts the stream data and strings of an indirect object
func (d *Document) decryptObject(obj Object, num, gen int) (Object, error) {
	if stream, ok := obj.(Stream); ok {
		if isXRefStream(stream) {
			return obj, nil
		}
		data, err := d.security.DecryptStream(stream.Data, num, gen)
		if err != nil {
			return nil, err
		}
		stream.Data = data
		obj = stream
	}
	return d.decryptStrings(obj, num, gen), nil
}

// resolveFilterEntries returns dict with indirect /Filter and /DecodeParms
// values, and indirect elements of their arrays, replaced by their targets
func (d *Document) resolveFilterEntries(dict Dictionary) Dictionary {
	var out Dictionary
	for _, key := range []Name{"Filter", "DecodeParms"} {
		value, ok := dict[key]
		if !ok {
			continue
		}
		resolved := d.resolveShallow(value)
		if arr, ok := resolved.(Array); ok {
			items := make(Array, len(arr))
			for i, item := range arr {
				items[i] = d.resolveShallow(item)
			}
			resolved = items
		}
		if out == nil {
			out = make(Dictionary, len(dict))
			for k, v := range dict {
				out[k] = v
			}
		}
		out[key] = resolved
	}
	if out == nil {
		return dict
	}
	return out
}

// resolveShallow follows a reference; unresolvable references become null
func (d *Document) resolveShallow(obj Object) Object {
	if _, ok := obj.(Reference); !ok {
		return obj
	}
	resolved, err := d.ResolveObject(obj)
	if err != nil || resolved == nil {
		return Null{}
	}
	return resolved
}

// isEncryptDict reports whether objNum holds the Encrypt dictionary,
// whose strings are stored in the clear
func (d *Document) isEncryptDict(objNum int) bool {
	ref, ok := d.Trailer.Get("Encrypt").(Reference)
	return ok && ref.ObjectNumber == objNum
}

// decryptStrings returns obj with every string it contains decrypted.
// Strings that fail to decrypt, such as truncated AES data, are kept.
func (d *Document) decryptStrings(obj Object, num, gen int) Object {
	switch o := obj.(type) {
	case String:
		if value, err := d.security.DecryptString(o.Value, num, gen); err == nil {
			o.Value = value
		}
		return o
	case Array:
		out := make(Array, len(o))
		for i, item := range o {
			out[i] = d.decryptStrings(item, num, gen)
		}
		return out
	case Dictionary:
		out := make(Dictionary, len(o))
		for k, item := range o {
			out[k] = d.decryptStrings(item, num, gen)
		}
		return out
	case Stream:
		o.Dictionary = d.decryptStrings(o.Dictionary, num, gen).(Dictionary)
		return o
	}
	return obj
}

// Cross-reference streams are never encrypted
func isXRefStream(s Stream) bool {
	t, _ := s.Dictionary.GetName("Type")
	return t == "XRef"
}

// resolveLength resolves an indirect /Length while a stream is being read
func (d *Document) resolveLength(ref Reference) (int64, bool) {
	obj, err := d.GetObject(ref.ObjectNumber)
	if err != nil {
		return 0, false
	}
	n, ok := obj.(Integer)
	return int64(n), ok
}

// getCompressedObject reads an object from an object stream
func (d *Document) getCompressedObject(streamObjNum, index int) (Object, error) {
	streamObj, err := d.GetObject(streamObjNum)
	if err != nil {
		return nil, err
	}
	stream, ok := streamObj.(Stream)
	if !ok {
		return nil, fmt.Errorf("object stream %d is not a stream", streamObjNum)
	}
	data, err := stream.Decode()
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", streamObjNum, err)
	}

	first, ok := stream.Dictionary.GetInt("First")
	if !ok || first < 0 || first > int64(len(data)) {
		return nil, fmt.Errorf("object stream %d: invalid First", streamObjNum)
	}
	n, _ := stream.Dictionary.GetInt("N")
	if index < 0 || int64(index) >= n {
		return nil, fmt.Errorf("object stream %d: index %d out of range", streamObjNum, index)
	}

	header := NewParserFromBytes(data[:first])
	var offset int64
	for i := 0; i <= index; i++ {
		if _, err := header.ParseObject(); err != nil {
			return nil, err
		}
		offObj, err := header.ParseObject()
		if err != nil {
			return nil, err
		}
		off, ok := offObj.(Integer)
		if !ok {
			return nil, fmt.Errorf("object stream %d: invalid offset", streamObjNum)
		}
		offset = int64(off)
	}
	if first+offset > int64(len(data)) {
		return nil, fmt.Errorf("object stream %d: offset out of range", streamObjNum)
	}
	return NewParserFromBytes(data[first+offset:]).ParseObject()
}

// parsePages flattens the page tree
func (d *Document) parsePages() error {
	pages, ok := d.resolveDict(d.Root.Get("Pages"))
	if !ok {
		return fmt.Errorf("%w: missing page tree", ErrNotPDF)
	}
	return d.parsePagesNode(pages, nil, make(map[int]bool), 0)
}

// parsePagesNode walks a page tree node, passing inherited resources down
func (d *Document) parsePagesNode(node Dictionary, inherited Dictionary, visited map[int]bool, depth int) error {
	if depth > 64 {
		return fmt.Errorf("page tree too deep")
	}

	resources := inherited
	if res, ok := d.resolveDict(node.Get("Resources")); ok {
		resources = res
	}

	kids, isTree := node.GetArray("Kids")
	if !isTree {
		if obj, err := d.ResolveObject(node.Get("Kids")); err == nil {
			kids, isTree = obj.(Array)
		}
	}
	nodeType, _ := node.GetName("Type")
	if nodeType == "Page" || !isTree {
		d.Pages = append(d.Pages, &Page{
			doc:        d,
			Dictionary: node,
			Index:      len(d.Pages),
			Resources:  resources,
		})
		return nil
	}

	for _, kidRef := range kids {
		if ref, ok := kidRef.(Reference); ok {
			if visited[ref.ObjectNumber] {
				continue
			}
			visited[ref.ObjectNumber] = true
		}
		kid, ok := d.resolveDict(kidRef)
		if !ok {
			continue
		}
		if err := d.parsePagesNode(kid, resources, visited, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// NumPages returns the number of pages
func (d *Document) NumPages() int {
	return len(d.Pages)
}

// Page returns the page at a zero-based index
func (d *Document) Page(index int) (*Page, error) {
	if index < 0 || index >= len(d.Pages) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrPageRange, index, len(d.Pages))
	}
	return d.Pages[index], nil
}

// IsEncrypted returns true if the document is encrypted
func (d *Document) IsEncrypted() bool {
	return d.Trailer.Get("Encrypt") != nil
}

// Close releases the document data
func (d *Document) Close() error {
	d.data = nil
	d.objects = nil
	d.xref = nil
	d.Pages = nil
	return nil
}

// Contents returns the decoded content streams of the page, concatenated
func (p *Page) Contents() ([]byte, error) {
	return p.doc.contents(p.Dictionary.Get("Contents"))
}

func (d *Document) contents(ref Object) ([]byte, error) {
	obj, err := d.ResolveObject(ref)
	if err != nil {
		return nil, err
	}

	switch contents := obj.(type) {
	case nil, Null:
		return nil, nil
	case Stream:
		return contents.Decode()
	case Array:
		var buf bytes.Buffer
		for _, item := range contents {
			part, err := d.ResolveObject(item)
			if err != nil {
				return nil, err
			}
			stream, ok := part.(Stream)
			if !ok {
				continue
			}
			data, err := stream.Decode()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("invalid Contents type %T", obj)
}
