package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders datasets into a landscape tabular PDF. The core fonts
// only cover Latin-1, so every cell goes through the text filter first.
type PDFExporter struct {
	filter func(string) string
}

// NewPDFExporter constructs a PDF exporter. A nil filter falls back to the
// cp1252 translator, which drops characters the core fonts cannot draw.
func NewPDFExporter(filter func(string) string) *PDFExporter {
	return &PDFExporter{filter: filter}
}

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(8, 12, 8)
	pdf.SetAutoPageBreak(true, 12)

	text := e.filter
	if text == nil {
		text = pdf.UnicodeTranslatorFromDescriptor("")
	}

	colWidth := 281.0 / float64(len(data.Headers))
	drawHeader := func() {
		pdf.SetFont("Arial", "B", 8)
		pdf.SetFillColor(221, 235, 247)
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 7, text(header), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 7)
	}
	pdf.SetHeaderFunc(func() {
		if title != "" {
			pdf.SetFont("Arial", "B", 12)
			pdf.CellFormat(0, 8, text(title), "", 1, "C", false, 0, "")
			pdf.Ln(2)
		}
		drawHeader()
	})
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-10)
		pdf.SetFont("Arial", "I", 7)
		pdf.CellFormat(0, 5, fmt.Sprintf("%d/{nb}", pdf.PageNo()), "", 0, "R", false, 0, "")
	})
	pdf.AddPage()

	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 6, truncate(text(row[header]), colWidth), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// truncate keeps a cell roughly inside its column at the body font size.
func truncate(value string, width float64) string {
	limit := int(width / 1.4)
	if limit < 4 || len(value) <= limit {
		return value
	}
	return value[:limit-2] + ".."
}
