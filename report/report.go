/*
Package report renders a stored calculation as a downloadable document.

FORMATS:
  PDF:  Title, input summary, totals and a per-month table
        (month, compensated kWh, base, accumulated rate, corrected,
        difference). gofpdf core fonts, cp1252 through the UTF-8
        translator so accented labels render.
  XLSX: "resumo" sheet with the input and totals, "detalhes" sheet with
        one row per month. Money cells are numeric so the sheet can be
        summed.

Rendering is read-only: the record is never modified and nothing is
recalculated. Amounts are rounded to cents only at this boundary.

SEE ALSO:
  - api/handlers.go: /api/calculations/{id}/report.{pdf,xlsx}
*/
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/icms-refund/engine"
)

const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"

	ContentTypePDF  = "application/pdf"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	title = "Relatório de Ressarcimento ICMS"
)

var hundred = decimal.NewFromInt(100)

// Filename returns the download name for a record.
func Filename(rec engine.Record, format string) string {
	id := rec.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("icms-%s.%s", id, format)
}

// =============================================================================
// PDF
// =============================================================================

var pdfColumns = []struct {
	header string
	width  float64
}{
	{"Mês/Ano", 22},
	{"Energia compensada (kWh)", 46},
	{"Valor Base", 30},
	{"Taxa IPCA", 26},
	{"Valor Corrigido", 34},
	{"Diferença", 30},
}

// BuildPDF renders rec as an A4 PDF.
func BuildPDF(rec engine.Record) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(title, true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 8, tr(title))
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 10)
	for _, line := range summaryLines(rec) {
		pdf.Cell(0, 6, tr(line[0]+": "+line[1]))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	for _, col := range pdfColumns {
		pdf.CellFormat(col.width, 6, tr(col.header), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, d := range rec.Result.Details {
		cells := []string{
			d.MonthYear.Format("01/2006"),
			fmt.Sprintf("%d", d.CompensatedEnergyKWh),
			brl(d.BaseValue),
			percent(d.EffectiveRate),
			brl(d.CorrectedValue),
			brl(d.Correction()),
		}
		for i, c := range cells {
			align := "R"
			if i == 0 {
				align = "C"
			}
			pdf.CellFormat(pdfColumns[i].width, 6, tr(c), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	if len(rec.Result.Details) == 0 {
		pdf.Ln(2)
		pdf.Cell(0, 6, tr("Nenhum mês elegível para restituição."))
		pdf.Ln(5)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("report: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// =============================================================================
// XLSX
// =============================================================================

const (
	summarySheet = "resumo"
	detailsSheet = "detalhes"
)

// BuildXLSX renders rec as a two-sheet workbook.
func BuildXLSX(rec engine.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("report: rename sheet: %w", err)
	}
	if _, err := f.NewSheet(detailsSheet); err != nil {
		return nil, fmt.Errorf("report: add sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("report: style: %w", err)
	}

	_ = f.SetCellValue(summarySheet, "A1", title)
	_ = f.SetCellStyle(summarySheet, "A1", "A1", bold)
	for i, line := range summaryLines(rec) {
		row := i + 3
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), line[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), line[1])
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 28)
	_ = f.SetColWidth(summarySheet, "B", "B", 40)

	for i, col := range pdfColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(detailsSheet, cell, col.header)
	}
	_ = f.SetCellStyle(detailsSheet, "A1", "F1", bold)
	for i, d := range rec.Result.Details {
		row := i + 2
		_ = f.SetCellValue(detailsSheet, fmt.Sprintf("A%d", row), d.MonthYear.String())
		_ = f.SetCellValue(detailsSheet, fmt.Sprintf("B%d", row), d.CompensatedEnergyKWh)
		_ = f.SetCellValue(detailsSheet, fmt.Sprintf("C%d", row), money(d.BaseValue))
		_ = f.SetCellValue(detailsSheet, fmt.Sprintf("D%d", row), d.EffectiveRate.Round(6).InexactFloat64())
		_ = f.SetCellValue(detailsSheet, fmt.Sprintf("E%d", row), money(d.CorrectedValue))
		_ = f.SetCellValue(detailsSheet, fmt.Sprintf("F%d", row), money(d.Correction()))
	}
	_ = f.SetColWidth(detailsSheet, "A", "F", 18)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("report: render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// =============================================================================
// FORMATTING
// =============================================================================

func summaryLines(rec engine.Record) [][2]string {
	client := rec.Input.ClientName
	if client == "" {
		client = "-"
	}
	window := "-"
	if rec.Result.MonthsCount > 0 {
		window = rec.Result.WindowStart.Format("01/2006")
	}
	return [][2]string{
		{"Cliente", client},
		{"Cálculo", rec.ID},
		{"Gerado em", rec.CreatedAt.Format(time.RFC3339)},
		{"Tipo de fornecimento", supplyLabel(rec.Input.SupplyType)},
		{"Energia injetada (kWh/mês)", fmt.Sprintf("%d", rec.Input.InjectedEnergyKWh)},
		{"Consumo (kWh/mês)", fmt.Sprintf("%d", rec.Input.ConsumptionKWh)},
		{"Data de instalação", rec.Input.InstallationDate.Format("02/01/2006")},
		{"Início da janela", window},
		{"Meses elegíveis", fmt.Sprintf("%d", rec.Result.MonthsCount)},
		{"Valor base total", brl(rec.Result.TotalBaseValue)},
		{"Valor corrigido total", brl(rec.Result.TotalCorrectedValue)},
		{"Indenização final (2x)", brl(rec.Result.FinalIndemnification)},
	}
}

func supplyLabel(s engine.SupplyType) string {
	switch s {
	case engine.SupplySinglePhase:
		return "Monofásico"
	case engine.SupplyTwoPhase:
		return "Bifásico"
	case engine.SupplyThreePhase:
		return "Trifásico"
	default:
		return string(s)
	}
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func percent(rate decimal.Decimal) string {
	return strings.Replace(rate.Mul(hundred).StringFixed(4), ".", ",", 1) + "%"
}

// brl formats an amount as "R$ 1.234,56".
func brl(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s[:len(s)-3], s[len(s)-2:]

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + "R$ " + b.String() + "," + frac
}
