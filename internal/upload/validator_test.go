package upload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeChecker struct {
	valid bool
}

func (f *fakeChecker) IsValid(context.Context, string) bool { return f.valid }

// pngHeader is enough magic for content sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestAcceptImage(t *testing.T) {
	v := NewValidator(&fakeChecker{valid: true})
	ctx := context.Background()

	png := writeTemp(t, "shot.png", pngHeader)
	if !v.Accept(ctx, png, "shot.png", KindImage) {
		t.Error("real png content should be accepted as image")
	}

	// Extension and declared kind lie; content wins.
	fake := writeTemp(t, "notes.png", []byte("just some text pretending to be a png"))
	if v.Accept(ctx, fake, "notes.png", KindImage) {
		t.Error("text content must not be accepted as image, whatever the name says")
	}
}

func TestAcceptCode(t *testing.T) {
	v := NewValidator(&fakeChecker{valid: true})
	ctx := context.Background()

	src := writeTemp(t, "main.c", []byte("#include <stdio.h>\n\nint main(void) {\n\treturn 0;\n}\n"))
	if !v.Accept(ctx, src, "main.c", KindCode) {
		t.Error("plain source text should be accepted as code")
	}

	png := writeTemp(t, "sneaky.c", pngHeader)
	if v.Accept(ctx, png, "sneaky.c", KindCode) {
		t.Error("binary content must not be accepted as code")
	}
}

func TestAcceptDocument(t *testing.T) {
	ctx := context.Background()
	pdf := writeTemp(t, "report.pdf", []byte("%PDF-1.4\n1 0 obj\n<< >>\nendobj\n"))

	v := NewValidator(&fakeChecker{valid: true})
	if !v.Accept(ctx, pdf, "report.pdf", KindDocument) {
		t.Error("valid pdf should be accepted as document")
	}

	// Correct magic but structurally broken.
	v = NewValidator(&fakeChecker{valid: false})
	if v.Accept(ctx, pdf, "report.pdf", KindDocument) {
		t.Error("pdf failing the structural check must be rejected")
	}

	v = NewValidator(&fakeChecker{valid: true})
	txt := writeTemp(t, "report2.pdf", []byte("not a pdf at all"))
	if v.Accept(ctx, txt, "report2.pdf", KindDocument) {
		t.Error("non-pdf content must not be accepted as document")
	}
}

func TestAcceptUnknownKind(t *testing.T) {
	v := NewValidator(&fakeChecker{valid: true})
	png := writeTemp(t, "shot.png", pngHeader)
	if v.Accept(context.Background(), png, "shot.png", Kind("archive")) {
		t.Error("unknown kind must be rejected")
	}
}

func TestAcceptMissingFile(t *testing.T) {
	v := NewValidator(&fakeChecker{valid: true})
	if v.Accept(context.Background(), "/nonexistent/upload", "upload", KindImage) {
		t.Error("unreadable file must be rejected")
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"document", "code", "image"} {
		if _, ok := ParseKind(s); !ok {
			t.Errorf("ParseKind(%q) should succeed", s)
		}
	}
	// Cover sheets are generated, never uploaded.
	if _, ok := ParseKind("cover"); ok {
		t.Error("ParseKind must reject cover")
	}
	if _, ok := ParseKind("archive"); ok {
		t.Error("ParseKind must reject unknown kinds")
	}
}
