package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ehr/rounding/internal/domain/rounding"
	"github.com/ehr/rounding/internal/platform/blobstore"
)

// XLSXSheetName is the worksheet the grid is written to.
const XLSXSheetName = "Rounds"

// headerRow is the row holding field labels; patient rows start below it.
const headerRow = 4

var fixedHeaders = []string{"Room", "Patient", "MRN", "Diagnosis"}

// XLSXRenderer writes the sheet as a grid: one row per patient, one column per
// field, with section titles above the field labels.
type XLSXRenderer struct{}

func NewXLSXRenderer() *XLSXRenderer { return &XLSXRenderer{} }

func (r *XLSXRenderer) ContentType() string { return blobstore.ContentTypeXLSX }
func (r *XLSXRenderer) Extension() string   { return "xlsx" }

func (r *XLSXRenderer) Render(sheet *rounding.SheetInstance, tpl *rounding.Template) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", XLSXSheetName); err != nil {
		return nil, fmt.Errorf("rename worksheet: %w", err)
	}

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14},
	})
	sectionStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Italic: true},
	})
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "#000000", Style: 1},
		},
	})
	wrapStyle, _ := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})

	f.SetCellValue(XLSXSheetName, "A1", sheetTitle(sheet, tpl))
	f.SetCellStyle(XLSXSheetName, "A1", "A1", titleStyle)
	f.SetCellValue(XLSXSheetName, "A2", sheetSubtitle(sheet))

	cols := columns(sheet, tpl)
	for i, h := range fixedHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		f.SetCellValue(XLSXSheetName, cell, h)
	}

	section := ""
	for i, col := range cols {
		colNum := len(fixedHeaders) + i + 1
		if col.section != section {
			section = col.section
			cell, _ := excelize.CoordinatesToCellName(colNum, headerRow-1)
			f.SetCellValue(XLSXSheetName, cell, section)
			f.SetCellStyle(XLSXSheetName, cell, cell, sectionStyle)
		}
		label := col.field.Label
		if col.field.Required {
			label += " *"
		}
		cell, _ := excelize.CoordinatesToCellName(colNum, headerRow)
		f.SetCellValue(XLSXSheetName, cell, label)

		name, _ := excelize.ColumnNumberToName(colNum)
		f.SetColWidth(XLSXSheetName, name, name, columnWidth(col.field.ColumnSize))
	}

	lastCol := len(fixedHeaders) + len(cols)
	first, _ := excelize.CoordinatesToCellName(1, headerRow)
	last, _ := excelize.CoordinatesToCellName(lastCol, headerRow)
	f.SetCellStyle(XLSXSheetName, first, last, headerStyle)

	f.SetColWidth(XLSXSheetName, "A", "A", 8)
	f.SetColWidth(XLSXSheetName, "B", "B", 24)
	f.SetColWidth(XLSXSheetName, "C", "C", 12)
	f.SetColWidth(XLSXSheetName, "D", "D", 24)

	for i, p := range sheet.Patients {
		row := headerRow + 1 + i
		values := []interface{}{p.Room, p.PatientName, p.MRN, p.Diagnosis}
		for _, col := range cols {
			values = append(values, cellValue(p, col))
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(XLSXSheetName, start, &values); err != nil {
			return nil, fmt.Errorf("write patient row %d: %w", i, err)
		}
		end, _ := excelize.CoordinatesToCellName(lastCol, row)
		f.SetCellStyle(XLSXSheetName, start, end, wrapStyle)
	}

	f.SetPanes(XLSXSheetName, &excelize.Panes{
		Freeze:      true,
		XSplit:      2,
		YSplit:      headerRow,
		TopLeftCell: "C5",
		ActivePane:  "bottomRight",
	})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidth(size rounding.ColumnSize) float64 {
	switch size {
	case rounding.ColumnSmall:
		return 10
	case rounding.ColumnLarge:
		return 40
	}
	return 18
}
