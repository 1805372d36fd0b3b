package extract

import (
	"iter"

	"github.com/novvoo/go-pageimages/pkg/pdf"
)

// Opener opens documents by path.
type Opener interface {
	Open(path string) (Document, error)
}

// Document is an open document. Close releases it.
type Document interface {
	NumPages() int
	Page(index int) (Page, error)
	Close() error
}

// Page yields its images lazily, in a stable order.
type Page interface {
	Images() iter.Seq2[Image, error]
}

// Image is one image of a page. Name is the declared name including its
// extension; Data is written to disk unchanged.
type Image struct {
	Name string
	Data []byte
	// Info is optional metadata shown by listings
	Info *ImageInfo
}

// ImageInfo describes the image behind a payload.
type ImageInfo struct {
	Width            int
	Height           int
	ColorSpace       string
	BitsPerComponent int
	Filter           string
	Inline           bool
}

// PDFOpener opens documents with pkg/pdf.
type PDFOpener struct {
	// Password is tried as user then owner password of encrypted files
	Password string
	Mode     pdf.ImageMode
}

// Open implements Opener.
func (o PDFOpener) Open(path string) (Document, error) {
	var opts []pdf.OpenOption
	if o.Password != "" {
		opts = append(opts, pdf.WithPassword(o.Password))
	}
	doc, err := pdf.Open(path, opts...)
	if err != nil {
		return nil, err
	}
	return &pdfDocument{doc: doc, mode: o.Mode}, nil
}

type pdfDocument struct {
	doc  *pdf.Document
	mode pdf.ImageMode
}

func (d *pdfDocument) NumPages() int {
	return d.doc.NumPages()
}

func (d *pdfDocument) Page(index int) (Page, error) {
	page, err := d.doc.Page(index)
	if err != nil {
		return nil, err
	}
	return pdfPage{page: page, mode: d.mode}, nil
}

func (d *pdfDocument) Close() error {
	return d.doc.Close()
}

type pdfPage struct {
	page *pdf.Page
	mode pdf.ImageMode
}

func (p pdfPage) Images() iter.Seq2[Image, error] {
	return func(yield func(Image, error) bool) {
		for img, err := range p.page.ImagesMode(p.mode) {
			if err != nil {
				yield(Image{}, err)
				return
			}
			desc := Image{
				Name: img.Name,
				Data: img.Data,
				Info: &ImageInfo{
					Width:            img.Width,
					Height:           img.Height,
					ColorSpace:       img.ColorSpace,
					BitsPerComponent: img.BitsPerComponent,
					Filter:           img.Filter,
					Inline:           img.Inline,
				},
			}
			if !yield(desc, nil) {
				return
			}
		}
	}
}
