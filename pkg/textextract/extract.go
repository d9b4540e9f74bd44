// Package textextract pulls plain text out of uploaded documents.
package textextract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

var ErrUnsupported = errors.New("unsupported file type")

type ExtractedText struct {
	Content  string
	Pages    int
	Metadata map[string]string
}

const (
	TypePDF      = "pdf"
	TypeDOCX     = "docx"
	TypeText     = "txt"
	TypeMarkdown = "md"
)

var contentTypes = map[string]string{
	"application/pdf": TypePDF,
	"text/plain":      TypeText,
	"text/markdown":   TypeMarkdown,
	"text/x-markdown": TypeMarkdown,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": TypeDOCX,
}

var extensions = map[string]string{
	".pdf":      TypePDF,
	".docx":     TypeDOCX,
	".txt":      TypeText,
	".text":     TypeText,
	".md":       TypeMarkdown,
	".markdown": TypeMarkdown,
}

// Detect picks the extractor for a file from its name, falling back to the
// declared content type. It returns "" when neither is recognised.
func Detect(name, contentType string) string {
	if t, ok := extensions[strings.ToLower(path.Ext(name))]; ok {
		return t
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return contentTypes[mt]
	}
	return ""
}

func SupportedTypes() []string {
	return []string{".pdf", ".docx", ".txt", ".md"}
}

func Extract(data io.ReaderAt, size int64, fileType string) (*ExtractedText, error) {
	switch fileType {
	case TypePDF:
		return extractPDF(data, size)
	case TypeDOCX:
		return extractDOCX(data, size)
	case TypeText:
		return extractTXT(data, size)
	case TypeMarkdown:
		return extractMarkdown(data, size)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, fileType)
	}
}

func extractPDF(data io.ReaderAt, size int64) (*ExtractedText, error) {
	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	var buf strings.Builder
	numPages := reader.NumPage()

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n\n")
	}

	return &ExtractedText{
		Content:  strings.TrimSpace(buf.String()),
		Pages:    numPages,
		Metadata: map[string]string{"type": TypePDF},
	}, nil
}

// extractDOCX reads word/document.xml, keeping one line per paragraph.
func extractDOCX(data io.ReaderAt, size int64) (*ExtractedText, error) {
	reader, err := zip.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open DOCX: %w", err)
	}

	for _, f := range reader.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open document.xml: %w", err)
		}
		defer rc.Close()

		text, err := docxText(rc)
		if err != nil {
			return nil, fmt.Errorf("read document.xml: %w", err)
		}
		return &ExtractedText{
			Content:  text,
			Pages:    1,
			Metadata: map[string]string{"type": TypeDOCX},
		}, nil
	}
	return nil, fmt.Errorf("open DOCX: word/document.xml missing")
}

func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var paragraphs []string
	var current strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteByte('\t')
			case "br":
				current.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(current.String()); s != "" {
					paragraphs = append(paragraphs, s)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

func readAll(data io.ReaderAt, size int64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := data.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

func extractTXT(data io.ReaderAt, size int64) (*ExtractedText, error) {
	buf, err := readAll(data, size)
	if err != nil {
		return nil, fmt.Errorf("read TXT: %w", err)
	}
	return &ExtractedText{
		Content:  string(bytes.TrimSpace(buf)),
		Pages:    1,
		Metadata: map[string]string{"type": TypeText},
	}, nil
}

var (
	mdFence    = regexp.MustCompile("(?m)^\\s*(```|~~~).*$")
	mdHeading  = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	mdListItem = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+`)
	mdImage    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdEmphasis = regexp.MustCompile("(\\*\\*|\\*|`)([^*`\n]+)(\\*\\*|\\*|`)")
)

// extractMarkdown drops markup but keeps headings, link text and code.
func extractMarkdown(data io.ReaderAt, size int64) (*ExtractedText, error) {
	buf, err := readAll(data, size)
	if err != nil {
		return nil, fmt.Errorf("read Markdown: %w", err)
	}
	text := string(buf)
	text = mdFence.ReplaceAllString(text, "")
	text = mdHeading.ReplaceAllString(text, "")
	text = mdListItem.ReplaceAllString(text, "")
	text = mdImage.ReplaceAllString(text, "$1")
	text = mdLink.ReplaceAllString(text, "$1")
	text = mdEmphasis.ReplaceAllString(text, "$2")

	return &ExtractedText{
		Content:  strings.TrimSpace(text),
		Pages:    1,
		Metadata: map[string]string{"type": TypeMarkdown},
	}, nil
}
