package pdf

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/novvoo/go-pageimages/internal/pdftest"
)

var fakeJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xFF, 0xD9}

func deflate(data []byte) []byte {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write(data)
	zw.Close()
	return buf.Bytes()
}

// collectImages drains an image sequence, failing the test on error
func collectImages(t *testing.T, page *Page, mode ImageMode) []*Image {
	t.Helper()
	var images []*Image
	for img, err := range page.ImagesMode(mode) {
		if err != nil {
			t.Fatalf("Images failed: %v", err)
		}
		images = append(images, img)
	}
	return images
}

func firstPage(t *testing.T, data []byte) *Page {
	t.Helper()
	doc, err := NewDocument(data)
	if err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}
	page, err := doc.Page(0)
	if err != nil {
		t.Fatal(err)
	}
	return page
}

func imageNames(images []*Image) []string {
	names := make([]string, len(images))
	for i, img := range images {
		names[i] = img.Name
	}
	return names
}

// TestImagesOrder tests enumeration order: painted images in content
// order including nested forms, then unpainted resources by name
func TestImagesOrder(t *testing.T) {
	b := pdftest.NewBuilder()
	gray := "/Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8"
	nested := b.AddImage(gray, []byte{1})
	painted := b.AddImage("/Width 1 /Height 1 /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode", fakeJPEG)
	spareB := b.AddImage(gray, []byte{2})
	spareA := b.AddImage(gray, []byte{3})
	form := b.AddStream(fmt.Sprintf("/Type /XObject /Subtype /Form /BBox [0 0 1 1] /Resources << /XObject << /Deep %d 0 R >> >>", nested),
		[]byte("/Deep Do"))
	b.AddPage(fmt.Sprintf("<< /XObject << /Photo %d 0 R /Fm0 %d 0 R /Zeta %d 0 R /Alpha %d 0 R >> >>", painted, form, spareB, spareA),
		[]byte("q /Fm0 Do Q q /Photo Do Q /Photo Do /Missing Do"))

	images := collectImages(t, firstPage(t, b.Bytes()), ImageModeNative)

	want := []string{"Deep.png", "Photo.jpg", "Alpha.png", "Zeta.png"}
	got := imageNames(images)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	if !bytes.Equal(images[1].Data, fakeJPEG) {
		t.Error("Expected JPEG data to pass through unchanged")
	}
	if images[1].ObjectNum != painted || images[1].Filter != "DCTDecode" {
		t.Errorf("Unexpected metadata %+v", images[1])
	}
}

// TestImagesDeterministic tests that two enumerations agree
func TestImagesDeterministic(t *testing.T) {
	b := pdftest.NewBuilder()
	var entries string
	for i := 0; i < 8; i++ {
		num := b.AddImage("/Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8", []byte{byte(i)})
		entries += fmt.Sprintf(" /Im%d %d 0 R", i, num)
	}
	b.AddPage("<< /XObject <<"+entries+" >> >>", []byte(""))
	page := firstPage(t, b.Bytes())

	first := imageNames(collectImages(t, page, ImageModeNative))
	second := imageNames(collectImages(t, page, ImageModeNative))
	if len(first) != 8 || fmt.Sprint(first) != fmt.Sprint(second) {
		t.Errorf("Expected identical orders, got %v and %v", first, second)
	}
}

// TestImagesPNG tests re-encoding rasters as PNG
func TestImagesPNG(t *testing.T) {
	tests := []struct {
		name   string
		dict   string
		data   []byte
		pixels []color.Color
	}{
		{
			name:   "gray flate",
			dict:   "/Width 2 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8 /Filter /FlateDecode",
			data:   deflate([]byte{0x00, 0xFF}),
			pixels: []color.Color{color.Gray{Y: 0x00}, color.Gray{Y: 0xFF}},
		},
		{
			name:   "1 bit inverted by Decode",
			dict:   "/Width 2 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 1 /Decode [1 0]",
			data:   []byte{0x80},
			pixels: []color.Color{color.Gray{Y: 0x00}, color.Gray{Y: 0xFF}},
		},
		{
			name:   "image mask",
			dict:   "/Width 2 /Height 1 /ImageMask true",
			data:   []byte{0x40},
			pixels: []color.Color{color.Gray{Y: 0x00}, color.Gray{Y: 0xFF}},
		},
		{
			name:   "rgb",
			dict:   "/Width 1 /Height 1 /ColorSpace /DeviceRGB /BitsPerComponent 8",
			data:   []byte{10, 20, 30},
			pixels: []color.Color{color.NRGBA{R: 10, G: 20, B: 30, A: 0xFF}},
		},
		{
			name:   "indexed",
			dict:   "/Width 2 /Height 1 /ColorSpace [/Indexed /DeviceRGB 1 <FF000000FF00>] /BitsPerComponent 8",
			data:   []byte{1, 0},
			pixels: []color.Color{color.NRGBA{G: 0xFF, A: 0xFF}, color.NRGBA{R: 0xFF, A: 0xFF}},
		},
		{
			name:   "short data padded",
			dict:   "/Width 2 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8",
			data:   []byte{0x7F},
			pixels: []color.Color{color.Gray{Y: 0x7F}, color.Gray{Y: 0x00}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := pdftest.NewBuilder()
			num := b.AddImage(tt.dict, tt.data)
			b.AddPage(fmt.Sprintf("<< /XObject << /Im0 %d 0 R >> >>", num), []byte("/Im0 Do"))

			images := collectImages(t, firstPage(t, b.Bytes()), ImageModeNative)
			if len(images) != 1 || images[0].Name != "Im0.png" {
				t.Fatalf("Expected Im0.png, got %v", imageNames(images))
			}

			decoded, err := png.Decode(bytes.NewReader(images[0].Data))
			if err != nil {
				t.Fatalf("Output is not a PNG: %v", err)
			}
			for x, want := range tt.pixels {
				if !sameColor(decoded.At(x, 0), want) {
					t.Errorf("Pixel %d: expected %v, got %v", x, want, decoded.At(x, 0))
				}
			}
		})
	}
}

func sameColor(a, b color.Color) bool {
	r1, g1, b1, a1 := a.RGBA()
	r2, g2, b2, a2 := b.RGBA()
	return r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2
}

// TestImagesCCITT tests CCITT fax images becoming TIFF files
func TestImagesCCITT(t *testing.T) {
	// Eight all-white Group 4 rows (one V0 code each) and EOFB.
	allWhite := []byte{0xFF, 0x00, 0x10, 0x01}

	tests := []struct {
		name  string
		parms string
		want  uint8
	}{
		{"group 4", "/K -1 /Columns 8", 0xFF},
		{"group 4 BlackIs1", "/K -1 /Columns 8 /BlackIs1 true", 0x00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := pdftest.NewBuilder()
			num := b.AddImage("/Width 8 /Height 8 /ColorSpace /DeviceGray /BitsPerComponent 1 /Filter /CCITTFaxDecode /DecodeParms << "+tt.parms+" >>", allWhite)
			b.AddPage(fmt.Sprintf("<< /XObject << /Fax %d 0 R >> >>", num), []byte("/Fax Do"))

			images := collectImages(t, firstPage(t, b.Bytes()), ImageModeNative)
			if len(images) != 1 || images[0].Name != "Fax.tiff" {
				t.Fatalf("Expected Fax.tiff, got %v", imageNames(images))
			}

			decoded, err := tiff.Decode(bytes.NewReader(images[0].Data))
			if err != nil {
				t.Fatalf("Output is not a TIFF: %v", err)
			}
			if decoded.Bounds() != image.Rect(0, 0, 8, 8) {
				t.Errorf("Expected 8x8 image, got %v", decoded.Bounds())
			}
			if got := color.GrayModel.Convert(decoded.At(3, 3)).(color.Gray).Y; got != tt.want {
				t.Errorf("Expected gray %#x, got %#x", tt.want, got)
			}
		})
	}
}

// TestImagesCCITTMixed tests that 2-D Group 3 data is wrapped unchanged
func TestImagesCCITTMixed(t *testing.T) {
	raw := []byte{0x00, 0x01, 0x02, 0x03}
	b := pdftest.NewBuilder()
	num := b.AddImage("/Width 8 /Height 2 /BitsPerComponent 1 /Filter /CCITTFaxDecode /DecodeParms << /K 1 /Columns 8 >>", raw)
	b.AddPage(fmt.Sprintf("<< /XObject << /Fax %d 0 R >> >>", num), []byte("/Fax Do"))

	images := collectImages(t, firstPage(t, b.Bytes()), ImageModeNative)
	if len(images) != 1 {
		t.Fatalf("Expected one image, got %d", len(images))
	}
	data := images[0].Data
	if !bytes.HasPrefix(data, []byte("II*\x00")) {
		t.Errorf("Expected little-endian TIFF header, got % x", data[:4])
	}
	if !bytes.HasSuffix(data, raw) {
		t.Error("Expected fax data stored unchanged at the end")
	}
}

// TestImagesInline tests inline images named by position
func TestImagesInline(t *testing.T) {
	b := pdftest.NewBuilder()
	im := b.AddImage("/Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8", []byte{9})
	content := []byte("BI /W 2 /H 1 /CS /G /BPC 8 ID \x10\x20 EI /Im0 Do BI /W 1 /H 1 /CS /RGB /BPC 8 /F /AHx ID 102030> EI")
	b.AddPage(fmt.Sprintf("<< /XObject << /Im0 %d 0 R >> >>", im), content)

	images := collectImages(t, firstPage(t, b.Bytes()), ImageModeNative)
	want := []string{"~0~.png", "Im0.png", "~1~.png"}
	if fmt.Sprint(imageNames(images)) != fmt.Sprint(want) {
		t.Fatalf("Expected %v, got %v", want, imageNames(images))
	}
	if !images[0].Inline || images[0].ObjectNum != 0 {
		t.Errorf("Expected inline metadata, got %+v", images[0])
	}
	if images[2].Components != 3 {
		t.Errorf("Expected RGB inline image, got %d components", images[2].Components)
	}
}

// TestImagesRaw tests raw mode: stored bytes with a sniffed extension
func TestImagesRaw(t *testing.T) {
	b := pdftest.NewBuilder()
	stored := deflate([]byte{1, 2, 3})
	flate := b.AddImage("/Width 3 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8 /Filter /FlateDecode", stored)
	jpeg := b.AddImage("/Width 1 /Height 1 /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode", fakeJPEG)
	b.AddPage(fmt.Sprintf("<< /XObject << /A %d 0 R /B %d 0 R >> >>", flate, jpeg), []byte("/A Do /B Do"))

	images := collectImages(t, firstPage(t, b.Bytes()), ImageModeRaw)
	if fmt.Sprint(imageNames(images)) != "[A.dat B.jpg]" {
		t.Fatalf("Unexpected names %v", imageNames(images))
	}
	if !bytes.Equal(images[0].Data, stored) {
		t.Error("Expected stored bytes in raw mode")
	}
}

// TestImagesError tests that enumeration stops at a broken image and
// that a consumer can stop early
func TestImagesError(t *testing.T) {
	b := pdftest.NewBuilder()
	good := b.AddImage("/Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8", []byte{1})
	bad := b.AddImage("/Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8 /Filter /BogusDecode", []byte{1})
	after := b.AddImage("/Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8", []byte{1})
	b.AddPage(fmt.Sprintf("<< /XObject << /A %d 0 R /B %d 0 R /C %d 0 R >> >>", good, bad, after), []byte("/A Do /B Do /C Do"))
	page := firstPage(t, b.Bytes())

	var names []string
	var gotErr error
	for img, err := range page.Images() {
		if err != nil {
			gotErr = err
			continue
		}
		names = append(names, img.Name)
	}
	if !errors.Is(gotErr, ErrUnsupportedFilter) {
		t.Errorf("Expected ErrUnsupportedFilter, got %v", gotErr)
	}
	if fmt.Sprint(names) != "[A.png]" {
		t.Errorf("Expected only A.png before the error, got %v", names)
	}

	count := 0
	for range page.Images() {
		count++
		break
	}
	if count != 1 {
		t.Errorf("Expected early stop after one image, got %d", count)
	}
}

// TestImagesIndirectFilterEntries tests /Filter and /DecodeParms given
// as indirect objects
func TestImagesIndirectFilterEntries(t *testing.T) {
	// One PNG "Up" row over an implicit zero row.
	stored := deflate([]byte{2, 0x10, 0x20})

	tests := []struct {
		name  string
		setup func(b *pdftest.Builder) string
	}{
		{"indirect params", func(b *pdftest.Builder) string {
			parms := b.Add("<< /Predictor 12 /Columns 2 >>")
			return fmt.Sprintf("/Filter /FlateDecode /DecodeParms %d 0 R", parms)
		}},
		{"indirect params in array", func(b *pdftest.Builder) string {
			parms := b.Add("<< /Predictor 12 /Columns 2 >>")
			return fmt.Sprintf("/Filter [/FlateDecode] /DecodeParms [%d 0 R]", parms)
		}},
		{"indirect filter array", func(b *pdftest.Builder) string {
			filters := b.Add("[/FlateDecode]")
			return fmt.Sprintf("/Filter %d 0 R /DecodeParms [<< /Predictor 12 /Columns 2 >>]", filters)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := pdftest.NewBuilder()
			entries := tt.setup(b)
			num := b.AddImage("/Width 2 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8 "+entries, stored)
			b.AddPage(fmt.Sprintf("<< /XObject << /Im0 %d 0 R >> >>", num), []byte("/Im0 Do"))

			images := collectImages(t, firstPage(t, b.Bytes()), ImageModeNative)
			if len(images) != 1 {
				t.Fatalf("Expected one image, got %d", len(images))
			}
			decoded, err := png.Decode(bytes.NewReader(images[0].Data))
			if err != nil {
				t.Fatalf("Output is not a PNG: %v", err)
			}
			for x, want := range []uint8{0x10, 0x20} {
				if got := color.GrayModel.Convert(decoded.At(x, 0)).(color.Gray).Y; got != want {
					t.Errorf("Pixel %d: expected %#x, got %#x", x, want, got)
				}
			}
		})
	}
}

// TestImagesHugeDimensions tests that absurd sizes are reported as errors
func TestImagesHugeDimensions(t *testing.T) {
	tests := []struct {
		name string
		dict string
	}{
		{"overflowing product", "/Width 4294967296 /Height 4294967296 /ColorSpace /DeviceGray /BitsPerComponent 8"},
		{"too many pixels", "/Width 100000 /Height 100000 /ColorSpace /DeviceGray /BitsPerComponent 8"},
		{"negative width", "/Width -4 /Height 2 /ColorSpace /DeviceGray /BitsPerComponent 8"},
		{"ccitt overflowing product", "/Width 1 /Height 1 /BitsPerComponent 1 /Filter /CCITTFaxDecode " +
			"/DecodeParms << /K -1 /Columns 4294967296 /Rows 4294967296 >>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := pdftest.NewBuilder()
			num := b.AddImage(tt.dict, []byte{0})
			b.AddPage(fmt.Sprintf("<< /XObject << /Im0 %d 0 R >> >>", num), []byte("/Im0 Do"))

			var gotErr error
			for _, err := range firstPage(t, b.Bytes()).Images() {
				gotErr = err
			}
			if gotErr == nil {
				t.Error("Expected an error for an invalid image size")
			}
		})
	}
}

// TestValidSize tests raster size limits
func TestValidSize(t *testing.T) {
	tests := []struct {
		w, h int
		want bool
	}{
		{1, 1, true},
		{16384, 16384, true},
		{maxImagePixels, 1, true},
		{maxImagePixels + 1, 1, false},
		{math.MaxInt32, math.MaxInt32, false},
		{0, 5, false},
		{5, -1, false},
	}

	for _, tt := range tests {
		if got := validSize(tt.w, tt.h); got != tt.want {
			t.Errorf("validSize(%d, %d) = %v, expected %v", tt.w, tt.h, got, tt.want)
		}
	}
}

// TestSniffExtension tests magic-byte detection
func TestSniffExtension(t *testing.T) {
	tests := []struct {
		data []byte
		ext  string
	}{
		{fakeJPEG, ".jpg"},
		{[]byte("II*\x00rest"), ".tif"},
		{[]byte("MM\x00*rest"), ".tif"},
		{[]byte("P4\n8 8\n"), ".pbm"},
		{[]byte("%PDF-1.7\n"), ".pdf"},
		{[]byte("\x89PNG\r\n\x1a\n"), ".png"},
		{[]byte("\x00\x00\x00\x0cjP  \r\n"), ".jp2"},
		{[]byte{0x78, 0x9C}, ".dat"},
		{nil, ".dat"},
	}

	for _, tt := range tests {
		if ext := sniffExtension(tt.data); ext != tt.ext {
			t.Errorf("sniffExtension(% x) = %s, expected %s", tt.data, ext, tt.ext)
		}
	}
}

// TestParseImageMode tests parsing mode names
func TestParseImageMode(t *testing.T) {
	for _, s := range []string{"", "native", "raw"} {
		mode, err := ParseImageMode(s)
		if err != nil {
			t.Errorf("ParseImageMode(%q) failed: %v", s, err)
		}
		if s != "" && mode.String() != s {
			t.Errorf("Expected %s, got %s", s, mode)
		}
	}
	if _, err := ParseImageMode("png"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}
