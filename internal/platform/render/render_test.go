package render

import (
	"bytes"
	"context"
	"testing"
)

func testInput() Input {
	return Input{
		TenantID:        "acme",
		DocumentID:      "doc-1",
		DocumentType:    "LAB_REPORT",
		TemplateVersion: "v1",
		Payload: map[string]interface{}{
			"encounter": map[string]interface{}{
				"code": "LAB-2026-000123",
			},
			"results": []interface{}{
				map[string]interface{}{"parameter": "HGB", "value": 13.1, "flag": "NORMAL"},
				map[string]interface{}{"parameter": "WBC", "value": nil, "flag": "UNKNOWN"},
			},
		},
	}
}

func TestRenderProducesPDF(t *testing.T) {
	r := NewPDFRenderer()
	out, err := r.Render(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-1.4")) {
		t.Errorf("output does not start with PDF header")
	}
	if !bytes.Contains(out, []byte("LAB-2026-000123")) {
		t.Errorf("output missing encounter code")
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	r := NewPDFRenderer()
	a, err := r.Render(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	b, err := r.Render(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("renders of identical input differ")
	}
}

func TestRenderRequiresDocumentType(t *testing.T) {
	r := NewPDFRenderer()
	in := testInput()
	in.DocumentType = ""
	if _, err := r.Render(context.Background(), in); err == nil {
		t.Fatal("Render succeeded without document type, want error")
	}
}
