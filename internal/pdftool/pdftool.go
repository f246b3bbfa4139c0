package pdftool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"mvdan.cc/sh/v3/shell"

	"github.com/doubtfire-lms/doubtfire-go/internal/config"
)

// compressThreshold is the size below which a PDF is left alone. Small
// files gain nothing from another ghostscript pass.
const compressThreshold = 1_200_000

// Tools wraps the external PDF commands. Command lines come from
// configuration as shell-style templates with {{in}}, {{out}} and {{ins}}
// placeholders, so a deployment can swap pdftk or ghostscript for
// whatever it has installed.
type Tools struct {
	check       []string
	compress    []string
	compressAlt []string
	merge       []string

	checkTimeout    time.Duration
	compressTimeout time.Duration
	mergeTimeout    time.Duration
}

func New(env *config.ToolsEnv) (*Tools, error) {
	check, err := parseTemplate(env.PDFCheckCmd)
	if err != nil {
		return nil, fmt.Errorf("failed to parse check command: %w", err)
	}
	compress, err := parseTemplate(env.PDFCompressCmd)
	if err != nil {
		return nil, fmt.Errorf("failed to parse compress command: %w", err)
	}
	compressAlt, err := parseTemplate(env.PDFCompressAltCmd)
	if err != nil {
		return nil, fmt.Errorf("failed to parse compress fallback command: %w", err)
	}
	merge, err := parseTemplate(env.PDFMergeCmd)
	if err != nil {
		return nil, fmt.Errorf("failed to parse merge command: %w", err)
	}
	return &Tools{
		check:           check,
		compress:        compress,
		compressAlt:     compressAlt,
		merge:           merge,
		checkTimeout:    time.Duration(env.CheckTimeoutSec) * time.Second,
		compressTimeout: time.Duration(env.CompressTimeoutSec) * time.Second,
		mergeTimeout:    time.Duration(env.MergeTimeoutSec) * time.Second,
	}, nil
}

// parseTemplate splits a command template with shell word rules.
// Placeholders stay as single words and are substituted per call.
func parseTemplate(tmpl string) ([]string, error) {
	words, err := shell.Fields(tmpl, nil)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("empty command template")
	}
	return words, nil
}

// expand substitutes the placeholder words of a template. {{ins}} expands
// in place to the whole input list, preserving order.
func expand(tmpl []string, in, out string, ins []string) []string {
	argv := make([]string, 0, len(tmpl)+len(ins))
	for _, w := range tmpl {
		switch w {
		case "{{in}}":
			argv = append(argv, in)
		case "{{out}}":
			argv = append(argv, out)
		case "{{ins}}":
			argv = append(argv, ins...)
		default:
			argv = append(argv, w)
		}
	}
	return argv
}

// IsValid reports whether the external checker can fully read the PDF.
// Any failure, including a timeout, counts as invalid.
func (t *Tools) IsValid(ctx context.Context, path string) bool {
	if err := run(ctx, t.checkTimeout, expand(t.check, path, "", nil)); err != nil {
		slog.DebugContext(ctx, "pdf failed validity check", "path", path, "error", err)
		return false
	}
	return true
}

// Compress rewrites the PDF at path in place through ghostscript, falling
// back to the alternate tool when that fails. Files under the size
// threshold are left untouched. Compression is best effort: when both
// tools fail the original file survives and Compress returns nil.
func (t *Tools) Compress(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() < compressThreshold {
		return nil
	}

	tmp := path + ".compressed.pdf"
	defer os.Remove(tmp)

	err = run(ctx, t.compressTimeout, expand(t.compress, path, tmp, nil))
	if err == nil && !t.IsValid(ctx, tmp) {
		err = fmt.Errorf("compressed output failed validity check")
	}
	if err != nil {
		slog.WarnContext(ctx, "pdf compression failed, trying fallback", "path", path, "error", err)
		os.Remove(tmp)
		err = run(ctx, t.compressTimeout, expand(t.compressAlt, path, tmp, nil))
		if err == nil && !t.IsValid(ctx, tmp) {
			err = fmt.Errorf("compressed output failed validity check")
		}
	}
	if err != nil {
		// Keep the valid original rather than fail the submission.
		slog.WarnContext(ctx, "pdf compression skipped", "path", path, "error", err)
		return nil
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Aggregate concatenates the input PDFs, in order, into out.
func (t *Tools) Aggregate(ctx context.Context, inputs []string, out string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("nothing to aggregate")
	}
	if err := run(ctx, t.mergeTimeout, expand(t.merge, "", out, inputs)); err != nil {
		return fmt.Errorf("failed to aggregate %d pdfs: %w", len(inputs), err)
	}
	return nil
}
