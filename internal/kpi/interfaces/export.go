package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	kpi "factory-telemetry/internal/kpi/domain"
)

// BuildFactoryPDF renders the factory summary and per-station KPIs.
func BuildFactoryPDF(summary kpi.FactorySummary, overview kpi.Overview) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Factory KPI Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", summary.Timestamp.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Active stations: %d", summary.ActiveStations))
	pdf.Ln(5)
	if summary.NoData {
		pdf.Cell(0, 6, summary.Message)
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Production: %d / %d", summary.Production.Current, summary.Production.Target))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Hourly rate: %.1f   Cycle time (s): %.1f", summary.Production.HourlyRate, summary.Production.CycleTime))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("OEE: %.2f   FTY: %.2f   OTD: %.2f", summary.KPI.OEE, summary.KPI.FTY, summary.KPI.OTD))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Quality score: %.4f", summary.Quality.OverallScore))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	headers := []string{"Station", "OEE", "FTY", "OTD", "Quality", "Throughput", "Cycle (s)"}
	widths := []float64{40, 20, 20, 20, 22, 26, 22}
	for i, h := range headers {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, st := range overview.Stations {
		pdf.CellFormat(widths[0], 6, st.StationID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, fmt.Sprintf("%.2f", st.OEE), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 6, fmt.Sprintf("%.2f", st.FTY), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 6, fmt.Sprintf("%.2f", st.OTD), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 6, fmt.Sprintf("%.4f", st.QualityScore), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[5], 6, fmt.Sprintf("%.1f", st.Throughput), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[6], 6, fmt.Sprintf("%.1f", st.CycleTime), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildFactoryXLSX renders a workbook with a summary sheet and a stations sheet.
func BuildFactoryXLSX(summary kpi.FactorySummary, overview kpi.Overview) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	stationsSheet := "stations"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(stationsSheet); err != nil {
		return nil, err
	}

	rows := [][2]any{
		{"Factory KPI Report", nil},
		{"Generated", summary.Timestamp.Format(time.RFC3339)},
		{"Active Stations", summary.ActiveStations},
		{"Production Current", summary.Production.Current},
		{"Production Target", summary.Production.Target},
		{"Hourly Rate", summary.Production.HourlyRate},
		{"Cycle Time (s)", summary.Production.CycleTime},
		{"OEE", summary.KPI.OEE},
		{"FTY", summary.KPI.FTY},
		{"OTD", summary.KPI.OTD},
		{"Quality Score", summary.Quality.OverallScore},
	}
	for i, row := range rows {
		r := i + 1
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", r), row[0])
		if row[1] != nil {
			_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", r), row[1])
		}
	}

	header := []string{"Station", "Timestamp", "Total Cycles", "Runtime Hours", "OEE", "FTY", "OTD", "Quality Score", "Throughput", "Cycle Time"}
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(stationsSheet, cell, h)
	}
	for i, st := range overview.Stations {
		values := []any{
			st.StationID,
			st.Timestamp.Format(time.RFC3339),
			st.TotalCycles,
			st.RuntimeHours,
			st.OEE,
			st.FTY,
			st.OTD,
			st.QualityScore,
			st.Throughput,
			st.CycleTime,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(stationsSheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
