package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Field is one labelled line on a rendered form.
type Field struct {
	Label string
	Value string
}

// Form is a single-page document such as a renewal application artifact.
type Form struct {
	Title    string
	Subtitle string
	Fields   []Field
	Footer   string
}

// PDFExporter renders datasets and forms into PDF documents.
type PDFExporter struct {
	author string
}

// NewPDFExporter constructs a PDF exporter stamping author into document metadata.
func NewPDFExporter(author string) *PDFExporter {
	return &PDFExporter{author: author}
}

// Render creates a landscape PDF with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := e.newDocument("L", title)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
		pdf.Ln(5)
	}

	pdf.SetFont("Arial", "B", 9)
	colWidth := 277.0 / float64(len(data.Headers))
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 7, row[header], "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return output(pdf)
}

// RenderForm creates a portrait PDF listing the form fields as label/value rows.
func (e *PDFExporter) RenderForm(form Form) ([]byte, error) {
	if form.Title == "" {
		return nil, fmt.Errorf("form requires a title")
	}
	if len(form.Fields) == 0 {
		return nil, fmt.Errorf("form %s has no fields", form.Title)
	}
	pdf := e.newDocument("P", form.Title)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, form.Title, "", 1, "L", false, 0, "")
	if form.Subtitle != "" {
		pdf.SetFont("Arial", "I", 10)
		pdf.CellFormat(0, 6, form.Subtitle, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	for _, field := range form.Fields {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(60, 8, field.Label, "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(130, 8, field.Value, "1", 1, "", false, 0, "")
	}

	if form.Footer != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "", 8)
		pdf.MultiCell(0, 5, form.Footer, "", "L", false)
	}

	return output(pdf)
}

func (e *PDFExporter) newDocument(orientation, title string) *gofpdf.Fpdf {
	pdf := gofpdf.New(orientation, "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetTitle(title, true)
	if e.author != "" {
		pdf.SetAuthor(e.author, true)
	}
	return pdf
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
