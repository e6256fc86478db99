package document

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/go-fitz"
)

var (
	// ErrNotPDF is returned for input without a PDF header.
	ErrNotPDF = errors.New("input is not a PDF document")

	// ErrPageOutOfRange is returned for a page index outside the document.
	ErrPageOutOfRange = errors.New("page index out of range")
)

// pdfMagic starts every PDF file.
var pdfMagic = []byte("%PDF")

// DefaultScale renders pages at 144 dpi.
const DefaultScale = 2.0

// Document is an opened PDF.
type Document interface {
	PageCount() int
	// RenderPage returns page index (zero based) as PNG at 72*scale dpi.
	RenderPage(index int, scale float64) ([]byte, error)
	// ExtractMarkdown returns the text layer of every page as markdown.
	ExtractMarkdown() (string, error)
	Close() error
}

// Opener opens PDF bytes.
type Opener interface {
	Open(data []byte) (Document, error)
}

// FitzOpener opens documents with MuPDF.
type FitzOpener struct{}

// NewFitzOpener returns an Opener backed by go-fitz.
func NewFitzOpener() FitzOpener {
	return FitzOpener{}
}

// Open checks the PDF header and loads data into MuPDF.
func (FitzOpener) Open(data []byte) (Document, error) {
	if err := CheckHeader(data); err != nil {
		return nil, err
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &fitzDocument{doc: doc, pages: doc.NumPage()}, nil
}

// CheckHeader rejects data that does not start with %PDF.
func CheckHeader(data []byte) error {
	if !bytes.HasPrefix(data, pdfMagic) {
		return ErrNotPDF
	}
	return nil
}

// fitzDocument serializes access because a MuPDF context is not safe for
// concurrent use.
type fitzDocument struct {
	mu    sync.Mutex
	doc   *fitz.Document
	pages int
}

func (d *fitzDocument) PageCount() int {
	return d.pages
}

func (d *fitzDocument) RenderPage(index int, scale float64) ([]byte, error) {
	if index < 0 || index >= d.pages {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, index, d.pages)
	}
	if scale <= 0 {
		scale = DefaultScale
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	png, err := d.doc.ImagePNG(index, 72*scale)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", index+1, err)
	}
	return png, nil
}

func (d *fitzDocument) ExtractMarkdown() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pages := make([]string, 0, d.pages)
	for i := 0; i < d.pages; i++ {
		text, err := d.doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("extract text from page %d: %w", i+1, err)
		}
		pages = append(pages, text)
	}
	return TextToMarkdown(pages), nil
}

func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Close()
}

var bulletPrefixes = []string{"•", "▪", "◦", "●", "‣", "–"}

// TextToMarkdown joins the text of each page into markdown paragraphs. Lines
// of a paragraph are joined with spaces, words hyphenated across a line break
// are rejoined and bullet glyphs become list items. Pages are separated by a
// blank line. Image-only pages contribute nothing.
func TextToMarkdown(pages []string) string {
	var blocks []string
	for _, page := range pages {
		blocks = append(blocks, pageBlocks(page)...)
	}
	return strings.Join(blocks, "\n\n")
}

func pageBlocks(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var (
		blocks []string
		para   strings.Builder
		list   []string
	)
	flushPara := func() {
		if para.Len() > 0 {
			blocks = append(blocks, para.String())
			para.Reset()
		}
	}
	flushList := func() {
		if len(list) > 0 {
			blocks = append(blocks, strings.Join(list, "\n"))
			list = nil
		}
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			flushPara()
			flushList()
			continue
		}
		if item, ok := bulletItem(line); ok {
			flushPara()
			list = append(list, "- "+item)
			continue
		}
		flushList()

		if para.Len() == 0 {
			para.WriteString(line)
			continue
		}
		current := para.String()
		if strings.HasSuffix(current, "-") && !strings.HasSuffix(current, " -") {
			para.Reset()
			para.WriteString(strings.TrimSuffix(current, "-"))
			para.WriteString(line)
			continue
		}
		para.WriteByte(' ')
		para.WriteString(line)
	}
	flushPara()
	flushList()
	return blocks
}

func bulletItem(line string) (string, bool) {
	for _, p := range bulletPrefixes {
		if rest, ok := strings.CutPrefix(line, p); ok {
			item := strings.TrimSpace(rest)
			return item, item != ""
		}
	}
	if rest, ok := strings.CutPrefix(line, "- "); ok {
		item := strings.TrimSpace(rest)
		return item, item != ""
	}
	return "", false
}
