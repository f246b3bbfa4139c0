package upload

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind classifies a staged file and selects its conversion rule.
type Kind string

const (
	KindCover    Kind = "cover"
	KindDocument Kind = "document"
	KindCode     Kind = "code"
	KindImage    Kind = "image"
)

// ParseKind resolves an uploadable kind. Cover sheets are generated by the
// pipeline itself and are not a valid upload kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "document":
		return KindDocument, true
	case "code":
		return KindCode, true
	case "image":
		return KindImage, true
	default:
		return "", false
	}
}

// acceptPrefixes maps an upload kind to the MIME prefixes it may sniff as.
var acceptPrefixes = map[Kind][]string{
	KindImage:    {"image/png", "image/gif", "image/bmp", "image/tiff", "image/jpeg", "image/x-ms-bmp"},
	KindCode:     {"text/x-pascal", "text/x-c", "text/x-c++", "text/plain", "text/"},
	KindDocument: {"application/pdf"},
}

// PDFChecker verifies the structural integrity of a PDF file.
type PDFChecker interface {
	IsValid(ctx context.Context, path string) bool
}

// Validator decides whether an uploaded file is acceptable for its declared
// kind. Classification sniffs the file content; the client-declared content
// type and the file extension are never trusted.
type Validator struct {
	pdf PDFChecker
}

func NewValidator(pdf PDFChecker) *Validator {
	return &Validator{pdf: pdf}
}

// Accept reports whether the file at path is a valid upload of the declared
// kind. name is only used in log messages. Accept never returns an error:
// anything unreadable, unrecognised or structurally broken is simply not
// accepted.
func (v *Validator) Accept(ctx context.Context, path, name string, kind Kind) bool {
	prefixes, ok := acceptPrefixes[kind]
	if !ok {
		slog.ErrorContext(ctx, "unknown upload kind", "kind", kind, "name", name)
		return false
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		slog.WarnContext(ctx, "failed to sniff upload", "name", name, "error", err)
		return false
	}
	slog.DebugContext(ctx, "sniffed upload", "name", name, "mime", mtype.String())

	matched := false
	for _, prefix := range prefixes {
		if strings.HasPrefix(mtype.String(), prefix) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	// A document must also survive a structural integrity check; a
	// correct magic number is not enough to trust the file.
	if kind == KindDocument && !v.pdf.IsValid(ctx, path) {
		slog.WarnContext(ctx, "rejected structurally invalid pdf", "name", name)
		return false
	}
	return true
}
