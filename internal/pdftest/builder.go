// Package pdftest builds small PDF documents for tests.
package pdftest

import (
	"bytes"
	"fmt"
)

// Builder assembles small PDF files with a catalog, a flat page tree and a
// cross-reference table. Object 1 is the catalog and object 2 the page
// tree; objects added by the caller are numbered from 3.
type Builder struct {
	bodies    [][]byte
	pages     []int
	pagesTree string
	trailer   string
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{bodies: [][]byte{nil, nil}}
}

// Next returns the number the next added object will get
func (b *Builder) Next() int {
	return len(b.bodies) + 1
}

// Add adds an object given its serialized body, e.g. "<< /N 1 >>"
func (b *Builder) Add(body string) int {
	b.bodies = append(b.bodies, []byte(body))
	return len(b.bodies)
}

// AddStream adds a stream object. dict holds the dictionary entries
// without the enclosing brackets; /Length is appended.
func (b *Builder) AddStream(dict string, data []byte) int {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<< %s /Length %d >>\nstream\n", dict, len(data))
	buf.Write(data)
	buf.WriteString("\nendstream")
	b.bodies = append(b.bodies, buf.Bytes())
	return len(b.bodies)
}

// AddImage adds an image XObject
func (b *Builder) AddImage(dict string, data []byte) int {
	return b.AddStream("/Type /XObject /Subtype /Image "+dict, data)
}

// AddPage adds a page with the given resources dictionary and content.
// A nil content adds a page without /Contents.
func (b *Builder) AddPage(resources string, content []byte) int {
	entries := "/Type /Page /Parent 2 0 R /MediaBox [0 0 612 792]"
	if resources != "" {
		entries += " /Resources " + resources
	}
	if content != nil {
		entries += fmt.Sprintf(" /Contents %d 0 R", b.AddStream("", content))
	}
	num := b.Add("<< " + entries + " >>")
	b.pages = append(b.pages, num)
	return num
}

// AddPageObject adds a page object given its full body and lists it in the
// page tree.
func (b *Builder) AddPageObject(body string) int {
	num := b.Add(body)
	b.pages = append(b.pages, num)
	return num
}

// SetPageTreeEntries adds entries to the root page tree node, such as
// inheritable "/Resources << ... >>"
func (b *Builder) SetPageTreeEntries(entries string) {
	b.pagesTree = entries
}

// SetTrailer adds entries to the trailer dictionary, e.g. "/Encrypt 5 0 R"
func (b *Builder) SetTrailer(entries string) {
	b.trailer = entries
}

// Bytes serializes the document
func (b *Builder) Bytes() []byte {
	b.bodies[0] = []byte("<< /Type /Catalog /Pages 2 0 R >>")
	var kids bytes.Buffer
	for i, num := range b.pages {
		if i > 0 {
			kids.WriteByte(' ')
		}
		fmt.Fprintf(&kids, "%d 0 R", num)
	}
	b.bodies[1] = []byte(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d %s>>", kids.String(), len(b.pages), b.pagesTree))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	buf.WriteString("%\xe2\xe3\xcf\xd3\n") // Binary marker

	offsets := make([]int, len(b.bodies))
	for i, body := range b.bodies {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", i+1)
		buf.Write(body)
		buf.WriteString("\nendobj\n")
	}

	xrefOffset := buf.Len()
	buf.WriteString("xref\n")
	fmt.Fprintf(&buf, "0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, offset := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offset)
	}

	buf.WriteString("trailer\n")
	fmt.Fprintf(&buf, "<< /Size %d /Root 1 0 R %s>>\n", len(offsets)+1, b.trailer)
	buf.WriteString("startxref\n")
	fmt.Fprintf(&buf, "%d\n", xrefOffset)
	buf.WriteString("%%EOF\n")
	return buf.Bytes()
}
