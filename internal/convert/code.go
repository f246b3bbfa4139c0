package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/go-pdf/fpdf"
)

const codeStyle = "github"

// lexerFor picks a highlighting lexer from a file extension. The unit
// languages are a short list; anything unknown reads fine as C.
func lexerFor(ext string) chroma.Lexer {
	var name string
	switch strings.ToLower(ext) {
	case ".cpp", ".cs":
		name = "C++"
	case ".java":
		name = "Java"
	case ".pas":
		name = "Pascal"
	default:
		name = "C"
	}
	lexer := lexers.Get(name)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}

// codeToPDF renders a source file as a syntax-highlighted listing with
// line numbers and a page-number footer.
func codeToPDF(src, name, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read code file %s: %w", src, err)
	}

	lexer := lexerFor(filepath.Ext(src))
	iterator, err := lexer.Tokenise(nil, string(data))
	if err != nil {
		return fmt.Errorf("failed to tokenise %s: %w", src, err)
	}
	style := styles.Get(codeStyle)
	if style == nil {
		style = styles.Fallback
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 8, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 6, name, "", 1, "L", false, 0, "")
	pdf.Ln(2)

	const (
		fontSize   = 8.0
		lineHeight = 3.6
		gutter     = 12.0
	)
	pdf.SetFont("Courier", "", fontSize)

	pageWidth, _ := pdf.GetPageSize()
	leftMargin, _, rightMargin, _ := pdf.GetMargins()
	limit := pageWidth - rightMargin
	codeLeft := leftMargin + gutter + 1
	charWidth := pdf.GetStringWidth("0")

	line := 1
	atLineStart := true
	writeLineNumber := func() {
		pdf.SetFont("Courier", "", fontSize)
		pdf.SetTextColor(150, 150, 150)
		pdf.CellFormat(gutter, lineHeight, fmt.Sprintf("%4d", line), "", 0, "R", false, 0, "")
		pdf.SetX(pdf.GetX() + 1)
	}

	// writeSegment wraps onto continuation lines instead of running off the
	// right edge. Courier is monospaced, so the column budget is width math.
	writeSegment := func(segment string) {
		runes := []rune(segment)
		for len(runes) > 0 {
			cols := int((limit - pdf.GetX()) / charWidth)
			if cols >= len(runes) {
				chunk := string(runes)
				pdf.CellFormat(pdf.GetStringWidth(chunk), lineHeight, chunk, "", 0, "L", false, 0, "")
				return
			}
			if cols < 1 {
				pdf.Ln(lineHeight)
				pdf.SetX(codeLeft)
				continue
			}
			chunk := string(runes[:cols])
			pdf.CellFormat(pdf.GetStringWidth(chunk), lineHeight, chunk, "", 0, "L", false, 0, "")
			runes = runes[cols:]
			pdf.Ln(lineHeight)
			pdf.SetX(codeLeft)
		}
	}

	for _, token := range iterator.Tokens() {
		entry := style.Get(token.Type)
		fontStyle := ""
		if entry.Bold == chroma.Yes {
			fontStyle = "B"
		}

		value := strings.ReplaceAll(token.Value, "\t", "    ")
		for i, segment := range strings.Split(value, "\n") {
			if i > 0 {
				pdf.Ln(lineHeight)
				line++
				atLineStart = true
			}
			if segment == "" {
				continue
			}
			if atLineStart {
				writeLineNumber()
				atLineStart = false
			}
			pdf.SetFont("Courier", fontStyle, fontSize)
			if entry.Colour.IsSet() {
				pdf.SetTextColor(int(entry.Colour.Red()), int(entry.Colour.Green()), int(entry.Colour.Blue()))
			} else {
				pdf.SetTextColor(0, 0, 0)
			}
			writeSegment(segment)
		}
	}

	if err := pdf.OutputFileAndClose(dst); err != nil {
		return fmt.Errorf("failed to write code pdf %s: %w", dst, err)
	}
	return nil
}
