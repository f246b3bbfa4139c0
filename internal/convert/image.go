package convert

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/go-pdf/fpdf"
)

const (
	// maxImageDimension bounds either side of a submitted image before it
	// is placed on a page. Phone photos arrive at 4000px and up; nothing
	// near that survives a print-resolution PDF anyway.
	maxImageDimension = 1000

	jpegQuality = 75

	// mmPerPixel renders images at 96dpi.
	mmPerPixel = 25.4 / 96.0
)

// imageToPDF downscales the image and writes it as a single-page PDF whose
// page matches the image dimensions.
func imageToPDF(src, dst string) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to open image %s: %w", src, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxImageDimension || bounds.Dy() > maxImageDimension {
		img = imaging.Fit(img, maxImageDimension, maxImageDimension, imaging.Lanczos)
		bounds = img.Bounds()
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("failed to encode image %s: %w", src, err)
	}

	w := float64(bounds.Dx()) * mmPerPixel
	h := float64(bounds.Dy()) * mmPerPixel

	pdf := fpdf.NewCustom(&fpdf.InitType{
		UnitStr: "mm",
		Size:    fpdf.SizeType{Wd: w, Ht: h},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opts := fpdf.ImageOptions{ImageType: "JPG"}
	pdf.RegisterImageOptionsReader("submission", opts, &buf)
	pdf.ImageOptions("submission", 0, 0, w, h, false, opts, 0, "")

	if err := pdf.OutputFileAndClose(dst); err != nil {
		return fmt.Errorf("failed to write image pdf %s: %w", dst, err)
	}
	return nil
}
