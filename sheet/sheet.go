/*
Package sheet reads and writes the spreadsheets the store staff work with.

MAS EXPORT:
  One row per item in report order, columns fixed:

    S.N. | Name of Materials | Unit | Opening Balance | Receive Date |
    Receive Reference | Receive Qty | Issue Date | Issue Reference |
    Issue Qty | Closing Balance | Unit Rate | Total Value | Remarks |
    Standardized Name

  An item with several receipts or issues in the period gets one cell per
  column with the values joined by newlines, oldest first, so the three
  cells of one movement line up. Dates are dd-MM-yyyy.

MASTER SHEET IMPORT:
  The legacy master list is read by header name, not position. "Name of
  Materials" is required; S.N., Unit, Quantity (or Opening/Closing
  Balance), Unit Rate, Standardized Name, Remarks/Nickname, Min Stock and
  Location are optional. Blank rows are skipped. A cell that does not
  parse fails the whole import with its row number.
*/
package sheet

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gridmaster/spares-ledger/inventory"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	SheetName  = "Sheet1"
	DateLayout = "02-01-2006"
	MIMEType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Columns is the MAS column order.
var Columns = []string{
	"S.N.",
	"Name of Materials",
	"Unit",
	"Opening Balance",
	"Receive Date",
	"Receive Reference",
	"Receive Qty",
	"Issue Date",
	"Issue Reference",
	"Issue Qty",
	"Closing Balance",
	"Unit Rate",
	"Total Value",
	"Remarks",
	"Standardized Name",
}

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("missing column")

// =============================================================================
// EXPORT
// =============================================================================

// RowValues renders one report row as cell values in column order.
func RowValues(row inventory.ReportRow) []any {
	return []any{
		row.SerialNumber,
		row.Name,
		row.Unit,
		row.OpeningBalance.InexactFloat64(),
		joinLines(row.Receipts, func(l inventory.MovementLine) string { return l.Date.Format(DateLayout) }),
		joinLines(row.Receipts, func(l inventory.MovementLine) string { return l.Reference }),
		joinLines(row.Receipts, func(l inventory.MovementLine) string { return l.Quantity.String() }),
		joinLines(row.Issues, func(l inventory.MovementLine) string { return l.Date.Format(DateLayout) }),
		joinLines(row.Issues, func(l inventory.MovementLine) string { return l.Reference }),
		joinLines(row.Issues, func(l inventory.MovementLine) string { return l.Quantity.String() }),
		row.ClosingBalance.InexactFloat64(),
		row.UnitRate.InexactFloat64(),
		row.TotalValue.InexactFloat64(),
		row.Remarks,
		row.StandardName,
	}
}

func joinLines(lines []inventory.MovementLine, field func(inventory.MovementLine) string) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = field(l)
	}
	return strings.Join(parts, "\n")
}

// Build renders the report into a new workbook. The caller closes it.
func Build(report *inventory.Report) (*excelize.File, error) {
	f := excelize.NewFile()

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	if err != nil {
		return nil, err
	}
	body, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
	})
	if err != nil {
		return nil, err
	}

	for i, h := range Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return nil, err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(Columns), 1)
	if err := f.SetCellStyle(SheetName, "A1", last, header); err != nil {
		return nil, err
	}

	for r, row := range report.Rows {
		rowNo := r + 2
		for c, v := range RowValues(row) {
			cell, err := excelize.CoordinatesToCellName(c+1, rowNo)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return nil, err
			}
		}
	}
	if len(report.Rows) > 0 {
		end, _ := excelize.CoordinatesToCellName(len(Columns), len(report.Rows)+1)
		if err := f.SetCellStyle(SheetName, "A2", end, body); err != nil {
			return nil, err
		}
	}

	if err := f.SetColWidth(SheetName, "B", "B", 36); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(SheetName, "E", "J", 14); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(SheetName, "O", "O", 28); err != nil {
		return nil, err
	}
	return f, nil
}

// WriteReport writes the report as xlsx to w.
func WriteReport(w io.Writer, report *inventory.Report) error {
	f, err := Build(report)
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	defer f.Close()
	return f.Write(w)
}

// SaveReport writes the report as xlsx to path.
func SaveReport(path string, report *inventory.Report) error {
	f, err := Build(report)
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	defer f.Close()
	return f.SaveAs(path)
}

// FileName is the conventional name of a monthly export.
func FileName(p inventory.Period) string {
	return "MAS-" + p.Start.Format("2006-01") + ".xlsx"
}

// =============================================================================
// IMPORT
// =============================================================================

// ReadMasterSheet parses the legacy master list from the first sheet of r.
func ReadMasterSheet(r io.Reader) ([]inventory.SeedItem, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrMissingColumn)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %s is empty", ErrMissingColumn, sheets[0])
	}

	idx := headerIndex(rows[0])
	nameCol, ok := idx.find("name of materials", "name", "legacy name")
	if !ok {
		return nil, fmt.Errorf("%w: Name of Materials", ErrMissingColumn)
	}
	snCol, _ := idx.find("s.n.", "s.n", "sn", "serial")
	unitCol, _ := idx.find("unit")
	qtyCol, _ := idx.find("quantity", "qty", "stock", "closing balance", "opening balance")
	rateCol, _ := idx.find("unit rate", "rate")
	stdCol, _ := idx.find("standardized name", "standard name", "sap name")
	nickCol, _ := idx.find("remarks", "nickname")
	minCol, _ := idx.find("min stock", "minimum stock")
	locCol, _ := idx.find("location")

	var items []inventory.SeedItem
	for i, row := range rows[1:] {
		line := i + 2
		name := cell(row, nameCol)
		if name == "" {
			continue
		}
		item := inventory.SeedItem{
			Details: inventory.ItemDetails{
				LegacyName:   name,
				Unit:         cell(row, unitCol),
				StandardName: cell(row, stdCol),
				Nickname:     cell(row, nickCol),
				Location:     cell(row, locCol),
			},
		}
		if item.Details.MasterSN, err = intCell(row, snCol); err != nil {
			return nil, fmt.Errorf("row %d: %w: S.N. %v", line, inventory.ErrInvalidItem, err)
		}
		if item.InitialStock, err = decimalCell(row, qtyCol); err != nil {
			return nil, fmt.Errorf("row %d: %w: %v", line, inventory.ErrInvalidQuantity, err)
		}
		if item.Details.UnitRate, err = decimalCell(row, rateCol); err != nil {
			return nil, fmt.Errorf("row %d: %w: unit rate %v", line, inventory.ErrInvalidItem, err)
		}
		if item.Details.MinStock, err = decimalCell(row, minCol); err != nil {
			return nil, fmt.Errorf("row %d: %w: min stock %v", line, inventory.ErrInvalidItem, err)
		}
		items = append(items, item)
	}
	return items, nil
}

type headers map[string]int

func headerIndex(row []string) headers {
	h := make(headers, len(row))
	for i, name := range row {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := h[key]; !dup {
			h[key] = i
		}
	}
	return h
}

func (h headers) find(names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := h[n]; ok {
			return i, true
		}
	}
	return -1, false
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func decimalCell(row []string, col int) (decimal.Decimal, error) {
	raw := strings.ReplaceAll(cell(row, col), ",", "")
	if raw == "" || raw == "-" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func intCell(row []string, col int) (int, error) {
	raw := cell(row, col)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(strings.TrimSuffix(raw, "."))
}
