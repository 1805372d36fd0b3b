// Package extract writes the images of one PDF page to files named
// <ordinal><name>.
package extract

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/novvoo/go-pageimages/internal/observability"
)

// Result describes one extraction run.
type Result struct {
	Page  int
	Files []File
}

// File is one output file. For a listing, Path is where Extract would
// write it.
type File struct {
	Ordinal int
	Name    string
	Path    string
	Size    int
	Info    *ImageInfo
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOutputDir sets the directory output files are created in. The
// default is the current working directory.
func WithOutputDir(dir string) Option {
	return func(e *Extractor) {
		e.outputDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(log *observability.Logger) Option {
	return func(e *Extractor) {
		e.log = log
	}
}

// Extractor opens a document, selects a page and writes its images.
type Extractor struct {
	opener    Opener
	outputDir string
	log       *observability.Logger
}

// New creates an Extractor reading documents through opener.
func New(opener Opener, opts ...Option) *Extractor {
	e := &Extractor{
		opener:    opener,
		outputDir: ".",
		log:       observability.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FileName returns the output file name of the image at ordinal.
func FileName(ordinal int, name string) string {
	return strconv.Itoa(ordinal) + name
}

// Extract writes every image of page pageIndex (zero-based) of the
// document at path. Files are written in enumeration order and numbered
// from 0. The first failure aborts the run; files already written are
// kept and listed in the returned Result.
func (e *Extractor) Extract(path string, pageIndex int) (*Result, error) {
	return e.run(path, pageIndex, true)
}

// List enumerates the same files as Extract without writing anything.
func (e *Extractor) List(path string, pageIndex int) (*Result, error) {
	return e.run(path, pageIndex, false)
}

func (e *Extractor) run(path string, pageIndex int, write bool) (*Result, error) {
	start := time.Now()
	log := e.log.With().Str("input", path).Int("page", pageIndex).Logger()

	doc, err := e.opener.Open(path)
	if err != nil {
		return nil, &DocumentOpenError{Path: path, Err: err}
	}
	defer func() {
		if err := doc.Close(); err != nil {
			log.Warn().Err(err).Msg("close document")
		}
	}()

	numPages := doc.NumPages()
	if pageIndex < 0 || pageIndex >= numPages {
		return nil, &PageIndexError{Index: pageIndex, NumPages: numPages}
	}
	page, err := doc.Page(pageIndex)
	if err != nil {
		return nil, &PageIndexError{Index: pageIndex, NumPages: numPages, Err: err}
	}

	result := &Result{Page: pageIndex}
	ordinal := 0
	for img, err := range page.Images() {
		if err != nil {
			return result, &ImageReadError{Ordinal: ordinal, Err: err}
		}

		name := FileName(ordinal, img.Name)
		target := filepath.Join(e.outputDir, name)
		if !safeName(img.Name) {
			return result, &OutputWriteError{Ordinal: ordinal, Path: target, Err: ErrUnsafeName}
		}
		if write {
			if err := writeFile(target, img.Data); err != nil {
				return result, &OutputWriteError{Ordinal: ordinal, Path: target, Err: err}
			}
			log.Debug().Str("file", target).Int("size", len(img.Data)).Msg("wrote image")
		}

		result.Files = append(result.Files, File{
			Ordinal: ordinal,
			Name:    name,
			Path:    target,
			Size:    len(img.Data),
			Info:    img.Info,
		})
		ordinal++
	}

	if write {
		log.Info().
			Int("images", len(result.Files)).
			Str("output_dir", e.outputDir).
			Dur("elapsed", time.Since(start)).
			Msg("extraction complete")
	}
	return result, nil
}

// safeName rejects names that would leave the output directory. The
// ordinal prefix keeps "." and ".." from aliasing a directory.
func safeName(name string) bool {
	return !strings.ContainsAny(name, `/\`+string(os.PathSeparator)+"\x00")
}

func writeFile(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	_, err = f.Write(data)
	return err
}
