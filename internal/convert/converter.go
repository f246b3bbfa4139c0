package convert

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/doubtfire-lms/doubtfire-go/internal/upload"
)

// DocumentTools is the slice of the external PDF toolchain a conversion
// needs: uploaded documents are re-checked and compressed, never rebuilt.
type DocumentTools interface {
	IsValid(ctx context.Context, path string) bool
	Compress(ctx context.Context, path string) error
}

// Converter turns staged submission files into page-sized PDFs ready for
// aggregation.
type Converter struct {
	docs DocumentTools
}

func NewConverter(docs DocumentTools) *Converter {
	return &Converter{docs: docs}
}

// ToPDF converts one staged file into a PDF at dst. The conversion rule
// follows the file's kind, not its extension.
func (c *Converter) ToPDF(ctx context.Context, f upload.StagedFile, dst string) error {
	switch f.Kind {
	case upload.KindImage:
		return imageToPDF(f.Path, dst)
	case upload.KindCode:
		return codeToPDF(f.Path, f.Name, dst)
	case upload.KindDocument:
		return c.documentToPDF(ctx, f.Path, dst)
	default:
		return fmt.Errorf("no conversion rule for kind %q", f.Kind)
	}
}

// documentToPDF passes an already-PDF upload through: verify, copy,
// compress in place. Compression is best effort; once a valid document is
// copied into place it stays in the evidence whatever happens after.
func (c *Converter) documentToPDF(ctx context.Context, src, dst string) error {
	if !c.docs.IsValid(ctx, src) {
		return fmt.Errorf("document %s is not a readable pdf", src)
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := c.docs.Compress(ctx, dst); err != nil {
		slog.WarnContext(ctx, "failed to compress document, keeping the original",
			"path", dst, "error", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
