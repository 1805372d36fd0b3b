package pdf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"golang.org/x/image/ccitt"
	"golang.org/x/image/tiff"
)

// maxImagePixels bounds the rasters re-encoded in native mode
const maxImagePixels = 1 << 28

// maxComponents bounds the color components of a raster
const maxComponents = 32

// validSize reports whether a w x h raster is within maxImagePixels. The
// product is never formed before both sides are known to be small enough.
func validSize(w, h int) bool {
	return w > 0 && h > 0 && w <= math.MaxInt32 && h <= math.MaxInt32 && w <= maxImagePixels/h
}

// encodePNG re-encodes decoded samples as PNG. invert flips the first
// component, as a /Decode array of [1 0] does.
func encodePNG(data []byte, info *Image, cs colorSpace, invert bool) ([]byte, error) {
	w, h, bpc := info.Width, info.Height, info.BitsPerComponent
	if !validSize(w, h) {
		return nil, fmt.Errorf("invalid image size %dx%d", w, h)
	}
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("unsupported bits per component %d", bpc)
	}

	comps := cs.Components
	if comps <= 0 || comps > maxComponents {
		return nil, fmt.Errorf("unsupported component count %d", comps)
	}
	rowBytes := (w*comps*bpc + 7) / 8
	// Short data is padded with zeros, as viewers do.
	if need := rowBytes * h; len(data) < need {
		padded := make([]byte, need)
		copy(padded, data)
		data = padded
	}
	s := sampler{data: data, rowBytes: rowBytes, bpc: bpc, comps: comps}

	var img image.Image
	switch {
	case cs.Base != nil:
		img = indexedImage(s, w, h, cs)
	case comps == 1 && bpc == 16:
		g := image.NewGray16(image.Rect(0, 0, w, h))
		flip := invert != cs.Subtractive
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := s.raw(x, y, 0)
				if flip {
					v = 0xFFFF - v
				}
				g.SetGray16(x, y, color.Gray16{Y: v})
			}
		}
		img = g
	case comps == 1:
		g := image.NewGray(image.Rect(0, 0, w, h))
		flip := invert != cs.Subtractive
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := s.scaled(x, y, 0)
				if flip {
					v = 0xFF - v
				}
				g.Pix[y*g.Stride+x] = v
			}
		}
		img = g
	case comps == 3 && bpc == 16:
		rgb := image.NewNRGBA64(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				rgb.SetNRGBA64(x, y, color.NRGBA64{R: s.raw(x, y, 0), G: s.raw(x, y, 1), B: s.raw(x, y, 2), A: 0xFFFF})
			}
		}
		img = rgb
	case comps == 3:
		rgb := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*rgb.Stride + x*4
				rgb.Pix[i] = s.scaled(x, y, 0)
				rgb.Pix[i+1] = s.scaled(x, y, 1)
				rgb.Pix[i+2] = s.scaled(x, y, 2)
				rgb.Pix[i+3] = 0xFF
			}
		}
		img = rgb
	case comps == 4:
		cmyk := image.NewCMYK(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*cmyk.Stride + x*4
				for c := 0; c < 4; c++ {
					cmyk.Pix[i+c] = s.scaled(x, y, c)
				}
			}
		}
		img = cmyk
	default:
		return nil, fmt.Errorf("%w: %d components", errColorSpace, comps)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sampler reads packed samples row by row
type sampler struct {
	data     []byte
	rowBytes int
	bpc      int
	comps    int
}

// raw returns sample c of pixel (x, y) at its native depth
func (s sampler) raw(x, y, c int) uint16 {
	row := s.data[y*s.rowBytes : (y+1)*s.rowBytes]
	idx := x*s.comps + c
	switch s.bpc {
	case 8:
		return uint16(row[idx])
	case 16:
		return binary.BigEndian.Uint16(row[idx*2:])
	}
	bit := idx * s.bpc
	shift := 8 - s.bpc - bit%8
	return uint16(row[bit/8]>>shift) & (1<<s.bpc - 1)
}

// scaled returns sample c of pixel (x, y) scaled to 8 bits
func (s sampler) scaled(x, y, c int) uint8 {
	v := s.raw(x, y, c)
	switch s.bpc {
	case 8:
		return uint8(v)
	case 16:
		return uint8(v >> 8)
	}
	return uint8(int(v) * 0xFF / (1<<s.bpc - 1))
}

// indexedImage builds a paletted image from an Indexed color space
func indexedImage(s sampler, w, h int, cs colorSpace) *image.Paletted {
	base := cs.Base
	n := base.Components
	palette := make(color.Palette, cs.HiVal+1)
	for i := range palette {
		entry := make([]byte, n)
		if off := i * n; off+n <= len(cs.Palette) {
			copy(entry, cs.Palette[off:off+n])
		}
		palette[i] = baseColor(entry, base)
	}
	if len(palette) == 0 {
		palette = color.Palette{color.Black}
	}

	img := image.NewPaletted(image.Rect(0, 0, w, h), palette)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := int(s.raw(x, y, 0))
			if idx >= len(palette) {
				idx = len(palette) - 1
			}
			img.Pix[y*img.Stride+x] = uint8(idx)
		}
	}
	return img
}

// baseColor converts an 8-bit palette entry of the base space
func baseColor(entry []byte, base *colorSpace) color.Color {
	switch len(entry) {
	case 1:
		if base.Subtractive {
			return color.Gray{Y: 0xFF - entry[0]}
		}
		return color.Gray{Y: entry[0]}
	case 3:
		return color.NRGBA{R: entry[0], G: entry[1], B: entry[2], A: 0xFF}
	case 4:
		return color.CMYK{C: entry[0], M: entry[1], Y: entry[2], K: entry[3]}
	}
	return color.Black
}

// ccittToTIFF decodes CCITT fax data and re-encodes it as a grayscale
// TIFF. Mixed 1-D/2-D Group 3 data (K > 0), and data the decoder rejects,
// is wrapped unchanged in a TIFF container instead.
func ccittToTIFF(data []byte, params Dictionary, width, height int, invert bool) ([]byte, error) {
	k, _ := params.GetInt("K")
	columns := width
	if c, ok := params.GetInt("Columns"); ok {
		columns = int(c)
	}
	if columns <= 0 {
		columns = 1728
	}
	rows := height
	if r, ok := params.GetInt("Rows"); ok && r > 0 {
		rows = int(r)
	}
	if !validSize(columns, rows) {
		return nil, fmt.Errorf("invalid CCITT image size %dx%d", columns, rows)
	}
	blackIs1, _ := params.GetBool("BlackIs1")
	align, _ := params.GetBool("EncodedByteAlign")

	// Visually inverted when exactly one of BlackIs1 and /Decode [1 0] holds.
	flip := blackIs1 != invert

	if k > 0 {
		return wrapCCITT(data, columns, rows, k, align, flip), nil
	}
	sf := ccitt.Group4
	if k == 0 {
		sf = ccitt.Group3
	}

	gray := image.NewGray(image.Rect(0, 0, columns, rows))
	err := ccitt.DecodeIntoGray(gray, bytes.NewReader(data), ccitt.MSB, sf, &ccitt.Options{Align: align})
	if err != nil {
		return wrapCCITT(data, columns, rows, k, align, flip), nil
	}
	if flip {
		for i := range gray.Pix {
			gray.Pix[i] = 0xFF - gray.Pix[i]
		}
	}

	var buf bytes.Buffer
	if err := tiff.Encode(&buf, gray, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TIFF tags used by wrapCCITT
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagT4Options       = 292
	tagT6Options       = 293

	tiffShort = 3
	tiffLong  = 4
)

// wrapCCITT stores fax data unchanged as the single strip of a
// little-endian TIFF file
func wrapCCITT(data []byte, width, height int, k int64, align, blackIs1 bool) []byte {
	compression, optionsTag, options := uint32(3), uint16(tagT4Options), uint32(0)
	switch {
	case k < 0:
		compression, optionsTag = 4, tagT6Options
	case k > 0:
		options |= 1 // 2-D coding
	}
	if align && compression == 3 {
		options |= 4 // fill bits before EOL
	}
	photometric := uint32(0) // WhiteIsZero
	if blackIs1 {
		photometric = 1
	}

	type entry struct {
		tag, typ uint16
		value    uint32
	}
	const numEntries = 10
	dataOffset := uint32(8 + 2 + numEntries*12 + 4)
	entries := [numEntries]entry{
		{tagImageWidth, tiffLong, uint32(width)},
		{tagImageLength, tiffLong, uint32(height)},
		{tagBitsPerSample, tiffShort, 1},
		{tagCompression, tiffShort, compression},
		{tagPhotometric, tiffShort, photometric},
		{tagStripOffsets, tiffLong, dataOffset},
		{tagSamplesPerPixel, tiffShort, 1},
		{tagRowsPerStrip, tiffLong, uint32(height)},
		{tagStripByteCounts, tiffLong, uint32(len(data))},
		{optionsTag, tiffLong, options},
	}

	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(42))
	binary.Write(&buf, binary.LittleEndian, uint32(8))
	binary.Write(&buf, binary.LittleEndian, uint16(numEntries))
	for _, e := range entries {
		binary.Write(&buf, binary.LittleEndian, e.tag)
		binary.Write(&buf, binary.LittleEndian, e.typ)
		binary.Write(&buf, binary.LittleEndian, uint32(1))
		if e.typ == tiffShort {
			binary.Write(&buf, binary.LittleEndian, uint16(e.value))
			binary.Write(&buf, binary.LittleEndian, uint16(0))
		} else {
			binary.Write(&buf, binary.LittleEndian, e.value)
		}
	}
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // no next IFD
	buf.Write(data)
	return buf.Bytes()
}

// sniffExtension guesses a file extension from the leading bytes
func sniffExtension(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return ".jpg"
	case bytes.HasPrefix(data, []byte("\x00\x00\x00\x0cjP  ")),
		bytes.HasPrefix(data, []byte{0xFF, 0x4F, 0xFF, 0x51}):
		return ".jp2"
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return ".png"
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return ".tif"
	case bytes.HasPrefix(data, []byte("P4\n")):
		return ".pbm"
	case bytes.HasPrefix(data, []byte("%PDF-1.")):
		return ".pdf"
	}
	return ".dat"
}
