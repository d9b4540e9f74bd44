package textextract

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		name, contentType, want string
	}{
		{"report.PDF", "", TypePDF},
		{"notes.md", "application/octet-stream", TypeMarkdown},
		{"upload", "text/plain; charset=utf-8", TypeText},
		{"spec.docx", "", TypeDOCX},
		{"image.png", "image/png", ""},
	}
	for _, tc := range cases {
		if got := Detect(tc.name, tc.contentType); got != tc.want {
			t.Errorf("Detect(%q, %q) = %q, want %q", tc.name, tc.contentType, got, tc.want)
		}
	}
}

func TestExtract_Text(t *testing.T) {
	data := []byte("  hello world \n")
	got, err := Extract(bytes.NewReader(data), int64(len(data)), TypeText)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "hello world" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestExtract_Markdown(t *testing.T) {
	data := []byte("# Setup\n\n- install **redis**\n- see [the docs](https://example.com)\n\n```sh\nmake run\n```\n")
	got, err := Extract(bytes.NewReader(data), int64(len(data)), TypeMarkdown)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Setup", "install redis", "see the docs", "make run"} {
		if !strings.Contains(got.Content, want) {
			t.Errorf("content %q missing %q", got.Content, want)
		}
	}
	for _, unwanted := range []string{"#", "**", "https://", "```"} {
		if strings.Contains(got.Content, unwanted) {
			t.Errorf("content %q still has %q", got.Content, unwanted)
		}
	}
}

func TestExtract_DOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("word/document.xml")
	w.Write([]byte(`<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Quarterly</w:t></w:r><w:r><w:t xml:space="preserve"> results &amp; outlook</w:t></w:r></w:p>
<w:p><w:r><w:t>Second paragraph</w:t></w:r></w:p>
</w:body></w:document>`))
	zw.Close()

	got, err := Extract(bytes.NewReader(buf.Bytes()), int64(buf.Len()), TypeDOCX)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "Quarterly results & outlook\n\nSecond paragraph" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestExtract_Unsupported(t *testing.T) {
	_, err := Extract(bytes.NewReader(nil), 0, "png")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestExtract_BadPDF(t *testing.T) {
	data := []byte("not a pdf")
	if _, err := Extract(bytes.NewReader(data), int64(len(data)), TypePDF); err == nil {
		t.Error("expected error for invalid PDF")
	}
}
