// Package render turns document payloads into printable artifacts. The
// production deployment plugs in an external rendering engine; the built-in
// renderer produces a minimal, deterministic PDF so the pipeline can run
// end to end in development and tests.
package render

import (
	"bytes"
	"context"
	"fmt"
	"sort"
)

// Input is everything a renderer needs to produce an artifact.
type Input struct {
	TenantID        string
	DocumentID      string
	DocumentType    string
	TemplateVersion string
	Payload         map[string]interface{}
}

// Renderer produces a rendered artifact for a document payload.
type Renderer interface {
	Render(ctx context.Context, in Input) ([]byte, error)
}

// PDFRenderer emits a self-contained single-page PDF whose text content is
// the flattened payload. Output depends only on the input, never on time or
// environment, so retries produce byte-identical artifacts.
type PDFRenderer struct{}

// NewPDFRenderer returns the built-in renderer.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

func (r *PDFRenderer) Render(_ context.Context, in Input) ([]byte, error) {
	if in.DocumentType == "" {
		return nil, fmt.Errorf("render: document type is required")
	}

	var text bytes.Buffer
	fmt.Fprintf(&text, "%s (template %s)\n", in.DocumentType, in.TemplateVersion)
	flatten(&text, "", in.Payload)

	return buildPDF(text.String()), nil
}

// flatten writes payload entries depth-first with sorted keys so rendering
// order is stable across runs.
func flatten(buf *bytes.Buffer, prefix string, m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		full := k
		if prefix != "" {
			full = prefix + "." + k
		}
		switch v := m[k].(type) {
		case map[string]interface{}:
			flatten(buf, full, v)
		case []interface{}:
			for i, item := range v {
				if sub, ok := item.(map[string]interface{}); ok {
					flatten(buf, fmt.Sprintf("%s[%d]", full, i), sub)
				} else {
					fmt.Fprintf(buf, "%s[%d]: %v\n", full, i, item)
				}
			}
		case nil:
			fmt.Fprintf(buf, "%s: -\n", full)
		default:
			fmt.Fprintf(buf, "%s: %v\n", full, v)
		}
	}
}

// buildPDF wraps text in the smallest valid PDF structure: one page, one
// content stream, Helvetica.
func buildPDF(text string) []byte {
	var stream bytes.Buffer
	stream.WriteString("BT /F1 10 Tf 40 800 Td 12 TL\n")
	for _, line := range bytes.Split([]byte(text), []byte("\n")) {
		fmt.Fprintf(&stream, "(%s) Tj T*\n", escapePDFString(line))
	}
	stream.WriteString("ET")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", stream.Len(), stream.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	return out.Bytes()
}

func escapePDFString(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case '(', ')', '\\':
			out = append(out, '\\', c)
		default:
			out = append(out, c)
		}
	}
	return out
}
