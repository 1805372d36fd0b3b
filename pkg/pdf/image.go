package pdf

import (
	"errors"
	"fmt"
	"iter"
	"sort"
)

// ImageMode selects how image payloads are produced
type ImageMode int

const (
	// ImageModeNative passes JPEG, JPEG 2000 and JBIG2 data through, wraps
	// CCITT fax data in TIFF and re-encodes other rasters as PNG.
	ImageModeNative ImageMode = iota
	// ImageModeRaw yields the stored (decrypted) stream bytes unchanged.
	ImageModeRaw
)

// ParseImageMode parses "native" or "raw"
func ParseImageMode(s string) (ImageMode, error) {
	switch s {
	case "", "native":
		return ImageModeNative, nil
	case "raw":
		return ImageModeRaw, nil
	}
	return 0, fmt.Errorf("unknown image mode %q", s)
}

func (m ImageMode) String() string {
	if m == ImageModeRaw {
		return "raw"
	}
	return "native"
}

// Image is an image found on a page
type Image struct {
	// Name is the resource name plus a file extension matching Data
	Name             string
	Data             []byte
	Width            int
	Height           int
	ColorSpace       string
	Components       int
	BitsPerComponent int
	Filter           string
	ImageMask        bool
	// ObjectNum and Generation are zero for inline images
	ObjectNum  int
	Generation int
	Inline     bool
}

// maxFormDepth bounds nested form XObjects
const maxFormDepth = 16

// Images enumerates the page's images in native mode
func (p *Page) Images() iter.Seq2[*Image, error] {
	return p.ImagesMode(ImageModeNative)
}

// ImagesMode enumerates the page's images. Images are yielded in the order
// the content stream paints them, descending into form XObjects; image
// XObjects in the page resources that are never painted follow, sorted by
// name. Each image XObject is yielded at most once. Payloads are produced
// lazily, one per iteration step; enumeration stops after the first error.
func (p *Page) ImagesMode(mode ImageMode) iter.Seq2[*Image, error] {
	return func(yield func(*Image, error) bool) {
		w := &imageWalker{
			doc:     p.doc,
			mode:    mode,
			yield:   yield,
			emitted: make(map[int]bool),
			forms:   make(map[int]bool),
		}

		content, err := p.Contents()
		if err != nil {
			yield(nil, fmt.Errorf("page %d contents: %w", p.Index, err))
			return
		}
		if !w.walk(content, p.Resources, 0) {
			return
		}
		w.unpainted(p.Resources)
	}
}

// imageWalker carries enumeration state across nested content streams
type imageWalker struct {
	doc      *Document
	mode     ImageMode
	yield    func(*Image, error) bool
	emitted  map[int]bool
	forms    map[int]bool
	topNames map[Name]bool
	inline   int
}

// walk interprets one content stream; it returns false once the consumer
// stops or an error was yielded.
func (w *imageWalker) walk(content []byte, resources Dictionary, depth int) bool {
	ops, err := NewContentStreamParser(content).ParseOperations()
	if err != nil {
		w.yield(nil, fmt.Errorf("content stream: %w", err))
		return false
	}

	xobjects, _ := w.doc.resolveDict(resources.Get("XObject"))
	for _, op := range ops {
		if op.InlineImage != nil {
			name := fmt.Sprintf("~%d~", w.inline)
			w.inline++
			img, err := w.doc.newImage(name, *op.InlineImage, resources, w.mode, true)
			if img != nil {
				img.Inline = true
			}
			if !w.yield(img, err) || err != nil {
				return false
			}
			continue
		}
		if op.Operator != "Do" || len(op.Operands) == 0 {
			continue
		}
		name, ok := op.Operands[0].(Name)
		if !ok || xobjects == nil {
			continue
		}
		if !w.paint(name, xobjects.Get(string(name)), resources, depth) {
			return false
		}
	}
	return true
}

// paint handles a Do operator
func (w *imageWalker) paint(name Name, ref Object, resources Dictionary, depth int) bool {
	if ref == nil {
		return true
	}
	r, isRef := ref.(Reference)
	if isRef && w.emitted[r.ObjectNumber] {
		return true
	}
	if depth == 0 {
		if w.topNames == nil {
			w.topNames = make(map[Name]bool)
		}
		w.topNames[name] = true
	}

	obj, err := w.doc.ResolveObject(ref)
	if err != nil {
		w.yield(nil, fmt.Errorf("XObject %s: %w", name, err))
		return false
	}
	stream, ok := obj.(Stream)
	if !ok {
		return true
	}

	switch subtype, _ := stream.Dictionary.GetName("Subtype"); subtype {
	case "Image":
		if isRef {
			w.emitted[r.ObjectNumber] = true
		}
		img, err := w.doc.newImage(string(name), stream, resources, w.mode, false)
		if img != nil && isRef {
			img.ObjectNum = r.ObjectNumber
			img.Generation = r.GenerationNumber
		}
		return w.yield(img, err) && err == nil

	case "Form":
		if depth+1 > maxFormDepth {
			return true
		}
		if isRef {
			if w.forms[r.ObjectNumber] {
				return true
			}
			w.forms[r.ObjectNumber] = true
			defer delete(w.forms, r.ObjectNumber)
		}
		content, err := stream.Decode()
		if err != nil {
			w.yield(nil, fmt.Errorf("form XObject %s: %w", name, err))
			return false
		}
		formResources := resources
		if res, ok := w.doc.resolveDict(stream.Dictionary.Get("Resources")); ok {
			formResources = res
		}
		return w.walk(content, formResources, depth+1)
	}
	return true
}

// unpainted yields page-level image XObjects the content never painted
func (w *imageWalker) unpainted(resources Dictionary) {
	xobjects, ok := w.doc.resolveDict(resources.Get("XObject"))
	if !ok {
		return
	}

	names := make([]string, 0, len(xobjects))
	for name := range xobjects {
		if !w.topNames[name] {
			names = append(names, string(name))
		}
	}
	sort.Strings(names)

	for _, name := range names {
		ref := xobjects.Get(name)
		if r, ok := ref.(Reference); ok && w.emitted[r.ObjectNumber] {
			continue
		}
		obj, err := w.doc.ResolveObject(ref)
		if err != nil {
			w.yield(nil, fmt.Errorf("XObject %s: %w", name, err))
			return
		}
		stream, ok := obj.(Stream)
		if !ok {
			continue
		}
		if subtype, _ := stream.Dictionary.GetName("Subtype"); subtype != "Image" {
			continue
		}
		if !w.paint(Name(name), ref, resources, 0) {
			return
		}
	}
}

// newImage builds an Image from an image stream
func (d *Document) newImage(name string, stream Stream, resources Dictionary, mode ImageMode, inline bool) (*Image, error) {
	dict := stream.Dictionary
	img := &Image{Name: name}

	if w, ok := intEntry(dict, "W", "Width"); ok {
		img.Width = int(w)
	}
	if h, ok := intEntry(dict, "H", "Height"); ok {
		img.Height = int(h)
	}
	if bpc, ok := intEntry(dict, "BPC", "BitsPerComponent"); ok {
		img.BitsPerComponent = int(bpc)
	}
	img.ImageMask, _ = boolEntry(dict, "IM", "ImageMask")

	filters, params := inlineAwareFilters(dict, inline)
	if len(filters) > 0 {
		img.Filter = string(filters[len(filters)-1])
	}

	csObj := dict.Get("ColorSpace")
	if inline && csObj == nil {
		csObj = dict.Get("CS")
	}
	// Only the PNG path needs the color space; a bad one fails there.
	cs := colorSpace{Name: "DeviceGray", Components: 1}
	var csErr error
	if img.ImageMask {
		img.BitsPerComponent = 1
	} else {
		cs, csErr = d.parseColorSpace(csObj, resources)
	}
	img.ColorSpace = cs.Name
	img.Components = cs.Components

	if mode == ImageModeRaw {
		img.Data = stream.Data
		img.Name += sniffExtension(stream.Data)
		return img, nil
	}

	data, codecs, codecParams, err := decodeChain(stream.Data, filters, params)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", name, err)
	}

	decode := decodeInverted(dict, inline)
	switch codec := firstName(codecs); codec {
	case "":
		if csErr != nil {
			return nil, fmt.Errorf("image %s: %w", name, csErr)
		}
		img.Data, err = encodePNG(data, img, cs, decode)
		img.Name += ".png"
	case "DCTDecode", "DCT":
		img.Data = data
		img.Name += ".jpg"
	case "JPXDecode":
		img.Data = data
		img.Name += ".jp2"
	case "JBIG2Decode":
		img.Data = data
		img.Name += ".jb2"
	case "CCITTFaxDecode", "CCF":
		img.Data, err = ccittToTIFF(data, codecParams[0], img.Width, img.Height, decode)
		img.Name += ".tiff"
	}
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", name, err)
	}
	if len(codecs) > 1 {
		return nil, fmt.Errorf("image %s: %w: %s after %s", name, ErrUnsupportedFilter, codecs[1], codecs[0])
	}
	return img, nil
}

// inlineAwareFilters returns the filter chain, accepting abbreviated keys
// for inline images
func inlineAwareFilters(dict Dictionary, inline bool) ([]Name, []Dictionary) {
	if inline && dict.Get("Filter") == nil {
		return filterChain(dict, "F", "DP")
	}
	return filterChain(dict, "Filter", "DecodeParms")
}

func firstName(names []Name) Name {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// decodeInverted reports a /Decode array of [1 0] on the first component
func decodeInverted(dict Dictionary, inline bool) bool {
	arr, ok := dict.GetArray("Decode")
	if !ok && inline {
		arr, ok = dict.GetArray("D")
	}
	if !ok || len(arr) < 2 {
		return false
	}
	return objectToFloat(arr[0]) > objectToFloat(arr[1])
}

// colorSpace is a resolved image color space
type colorSpace struct {
	Name       string
	Components int
	// Set for Indexed spaces
	Base    *colorSpace
	HiVal   int
	Palette []byte
	// Subtractive spaces store ink coverage, so 0 is white
	Subtractive bool
}

var errColorSpace = errors.New("unsupported color space")

// parseColorSpace resolves a color space object. Names that are not device
// spaces are looked up in the resource ColorSpace dictionary.
func (d *Document) parseColorSpace(obj Object, resources Dictionary) (colorSpace, error) {
	return d.parseColorSpaceDepth(obj, resources, 0)
}

func (d *Document) parseColorSpaceDepth(obj Object, resources Dictionary, depth int) (colorSpace, error) {
	if depth > 8 {
		return colorSpace{}, fmt.Errorf("%w: nesting too deep", errColorSpace)
	}
	obj, err := d.ResolveObject(obj)
	if err != nil {
		return colorSpace{}, err
	}

	switch cs := obj.(type) {
	case nil, Null:
		// Codecs such as JPX carry their own color information.
		return colorSpace{Name: "DeviceGray", Components: 1}, nil
	case Name:
		switch cs {
		case "DeviceGray", "G", "CalGray":
			return colorSpace{Name: "DeviceGray", Components: 1}, nil
		case "DeviceRGB", "RGB", "CalRGB", "Lab":
			return colorSpace{Name: "DeviceRGB", Components: 3}, nil
		case "DeviceCMYK", "CMYK":
			return colorSpace{Name: "DeviceCMYK", Components: 4}, nil
		case "Pattern":
			return colorSpace{}, fmt.Errorf("%w: Pattern", errColorSpace)
		}
		named, _ := d.resolveDict(resources.Get("ColorSpace"))
		if def := named.Get(string(cs)); def != nil {
			return d.parseColorSpaceDepth(def, resources, depth+1)
		}
		return colorSpace{}, fmt.Errorf("%w: %s", errColorSpace, cs)
	case Array:
		return d.parseColorSpaceArray(cs, resources, depth)
	}
	return colorSpace{}, fmt.Errorf("%w: %T", errColorSpace, obj)
}

func (d *Document) parseColorSpaceArray(arr Array, resources Dictionary, depth int) (colorSpace, error) {
	if len(arr) == 0 {
		return colorSpace{}, fmt.Errorf("%w: empty array", errColorSpace)
	}
	family, _ := arr[0].(Name)
	switch family {
	case "CalGray", "CalRGB", "Lab", "DeviceGray", "DeviceRGB", "DeviceCMYK":
		return d.parseColorSpaceDepth(family, resources, depth+1)

	case "ICCBased":
		if len(arr) < 2 {
			break
		}
		obj, err := d.ResolveObject(arr[1])
		if err != nil {
			return colorSpace{}, err
		}
		profile, ok := obj.(Stream)
		if !ok {
			break
		}
		n, _ := profile.Dictionary.GetInt("N")
		switch n {
		case 1:
			return colorSpace{Name: "ICCBased", Components: 1}, nil
		case 3:
			return colorSpace{Name: "ICCBased", Components: 3}, nil
		case 4:
			return colorSpace{Name: "ICCBased", Components: 4}, nil
		}
		if alt := profile.Dictionary.Get("Alternate"); alt != nil {
			return d.parseColorSpaceDepth(alt, resources, depth+1)
		}

	case "Indexed", "I":
		if len(arr) < 4 {
			break
		}
		base, err := d.parseColorSpaceDepth(arr[1], resources, depth+1)
		if err != nil {
			return colorSpace{}, err
		}
		hival, _ := arr[2].(Integer)
		lookup, err := d.ResolveObject(arr[3])
		if err != nil {
			return colorSpace{}, err
		}
		var palette []byte
		switch l := lookup.(type) {
		case String:
			palette = l.Value
		case Stream:
			if palette, err = l.Decode(); err != nil {
				return colorSpace{}, fmt.Errorf("indexed lookup: %w", err)
			}
		default:
			return colorSpace{}, fmt.Errorf("%w: indexed lookup is %T", errColorSpace, lookup)
		}
		return colorSpace{Name: "Indexed", Components: 1, Base: &base, HiVal: int(hival), Palette: palette}, nil

	case "Separation":
		return colorSpace{Name: "Separation", Components: 1, Subtractive: true}, nil

	case "DeviceN":
		if len(arr) < 2 {
			break
		}
		names, err := d.ResolveObject(arr[1])
		if err != nil {
			return colorSpace{}, err
		}
		if colorants, ok := names.(Array); ok && len(colorants) > 0 {
			return colorSpace{Name: "DeviceN", Components: len(colorants), Subtractive: true}, nil
		}
	}
	return colorSpace{}, fmt.Errorf("%w: %s", errColorSpace, family)
}
