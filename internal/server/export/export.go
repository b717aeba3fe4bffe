// Package export renders designs as an Excel workbook.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
	"github.com/xuri/excelize/v2"
)

const (
	DesignsSheet = "Designs"
	StonesSheet  = "Stones"

	// ContentType is the MIME type of the produced workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	timeLayout = "2006-01-02 15:04:05"
)

var designHeaders = []string{
	"ID", "Submitted At", "Status", "Customer", "Email", "Phone", "Company",
	"Style", "Metal", "Karat", "Colour", "Size", "Stone Count", "Total Carat",
	"Engraving", "Notes", "File Count",
}

var stoneHeaders = []string{
	"Design ID", "Type", "Shape", "Carat", "Colour", "Clarity", "Quantity", "Setting",
}

// FileName returns the download name for a workbook produced at t.
func FileName(t time.Time) string {
	return "designs-" + t.UTC().Format("20060102-150405") + ".xlsx"
}

// Write renders designs into an xlsx workbook and writes it to w.
func Write(w io.Writer, designs []*models.Design) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", DesignsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(StonesSheet); err != nil {
		return fmt.Errorf("new sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("new style: %w", err)
	}

	designRows := make([][]any, 0, len(designs))
	var stoneRows [][]any
	for _, d := range designs {
		designRows = append(designRows, designRow(d))
		for _, s := range d.Stones {
			stoneRows = append(stoneRows, []any{
				d.ID, s.Type, s.Shape, s.Carat, s.Colour, s.Clarity, s.Quantity, s.Setting,
			})
		}
	}

	if err := writeSheet(f, DesignsSheet, designHeaders, designRows, bold); err != nil {
		return err
	}
	if err := writeSheet(f, StonesSheet, stoneHeaders, stoneRows, bold); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func designRow(d *models.Design) []any {
	return []any{
		d.ID,
		d.CreatedAt.UTC().Format(timeLayout),
		d.Status,
		d.Customer.Name,
		d.Customer.Email,
		d.Customer.Phone,
		d.Customer.Company,
		d.Style,
		d.Metal,
		d.Karat,
		d.MetalColour,
		d.Size,
		d.StoneCount(),
		d.TotalCarat(),
		d.Markings.Engraving,
		d.Notes,
		len(d.Files),
	}
}

// writeSheet puts a bold, frozen, filterable header row followed by rows.
func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]any, headerStyle int) error {
	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("%s header: %w", sheet, err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+2, err)
		}
	}

	last, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last+"1", headerStyle); err != nil {
		return fmt.Errorf("%s header style: %w", sheet, err)
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("%s panes: %w", sheet, err)
	}
	if err := f.AutoFilter(sheet, "A1:"+last+"1", nil); err != nil {
		return fmt.Errorf("%s autofilter: %w", sheet, err)
	}
	if err := f.SetColWidth(sheet, "A", last, columnWidth(headers)); err != nil {
		return fmt.Errorf("%s widths: %w", sheet, err)
	}
	return nil
}

func columnWidth(headers []string) float64 {
	w := 12
	for _, h := range headers {
		if n := len(strings.TrimSpace(h)) + 2; n > w {
			w = n
		}
	}
	return float64(w)
}
