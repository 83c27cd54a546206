package report

import (
	"bytes"
	"fmt"
	"time"

	"TripExplorer/src/processor"

	"github.com/jung-kurt/gofpdf"
)

// BuildSummaryPDF 单页摘要：总量、用户类型占比、各类型的骑行习惯
func BuildSummaryPDF(a *processor.Analysis, heading string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, heading)
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Source: %s", a.Source))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Trips: %d", a.Table.Len()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().Format(time.RFC3339)))
	pdf.Ln(8)

	busiestDay, dayTrips := a.Weekday.Max()
	busiestHour, hourTrips := a.Hourly.Max()
	if len(a.Weekday.Labels) > 0 {
		pdf.Cell(0, 6, fmt.Sprintf("Busiest weekday: %s (%.0f trips)", busiestDay, dayTrips))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Busiest hour: %s:00 (%.0f trips)", busiestHour, hourTrips))
		pdf.Ln(8)
	}

	header := []struct {
		text  string
		width float64
	}{
		{"User type", 35}, {"Trips", 22}, {"Share %", 22}, {"Busiest day", 25},
		{"Busiest hour", 25}, {"Weekend %", 25}, {"Mean min", 22},
	}
	pdf.SetFont("Arial", "B", 10)
	for _, h := range header {
		pdf.CellFormat(h.width, 6, h.text, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, f := range a.Findings {
		label := f.UserType
		if label == "" {
			label = "(unknown)"
		}
		pdf.CellFormat(header[0].width, 6, label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(header[1].width, 6, fmt.Sprintf("%d", f.Trips), "1", 0, "R", false, 0, "")
		pdf.CellFormat(header[2].width, 6, fmt.Sprintf("%.2f", f.Share), "1", 0, "R", false, 0, "")
		pdf.CellFormat(header[3].width, 6, f.BusiestDay, "1", 0, "C", false, 0, "")
		pdf.CellFormat(header[4].width, 6, f.BusiestHour, "1", 0, "C", false, 0, "")
		pdf.CellFormat(header[5].width, 6, fmt.Sprintf("%.2f", f.WeekendShare), "1", 0, "R", false, 0, "")
		pdf.CellFormat(header[6].width, 6, fmt.Sprintf("%.1f", f.MeanMinutes), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	if p := a.Profile; p != nil {
		pdf.Ln(6)
		pdf.Cell(0, 6, fmt.Sprintf("Duplicate rows: %d", p.Duplicates))
		pdf.Ln(5)
		for _, col := range p.Columns {
			if n := p.Nulls[col]; n > 0 {
				pdf.Cell(0, 6, fmt.Sprintf("Missing %s: %d", col, n))
				pdf.Ln(5)
			}
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
