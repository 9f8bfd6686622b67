package export

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/stemsi/kontrol-backend/internal/console"
	"github.com/stemsi/kontrol-backend/internal/i18n"
	"github.com/stemsi/kontrol-backend/internal/model"
)

// WriteXLSX writes the list to a workbook. Verdicts, when given, go to a
// second sheet with one row per checked task.
func WriteXLSX(ctx context.Context, w io.Writer, items []model.ListItem, verdicts []console.Verdict) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("xlsx style: %w", err)
	}

	results := i18n.T(ctx, "SheetResults")
	if err := f.SetSheetName(f.GetSheetName(0), results); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}
	header := []any{
		i18n.T(ctx, "ColumnFIO"), i18n.T(ctx, "ColumnClass"), i18n.T(ctx, "ColumnVariant"),
		i18n.T(ctx, "ColumnCreatedAt"), i18n.T(ctx, "ColumnPercent"), i18n.T(ctx, "ColumnMark"),
		i18n.T(ctx, "ColumnVoided"), i18n.T(ctx, "ColumnKey"),
	}
	if err := writeRow(f, results, 1, header); err != nil {
		return err
	}
	for i, it := range items {
		var percent any = ""
		if it.Percent != nil {
			percent = *it.Percent
		}
		voided := i18n.T(ctx, "No")
		if it.Voided {
			voided = i18n.T(ctx, "Yes")
		}
		row := []any{it.FIO, it.Class, it.Variant, it.CreatedAt, percent, it.Mark, voided, it.Key}
		if err := writeRow(f, results, i+2, row); err != nil {
			return err
		}
	}
	if err := finishSheet(f, results, bold, "A", 32); err != nil {
		return err
	}

	if len(verdicts) > 0 {
		sheet := i18n.T(ctx, "SheetAutocheck")
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("xlsx sheet: %w", err)
		}
		header := []any{
			i18n.T(ctx, "ColumnFIO"), i18n.T(ctx, "ColumnClass"), i18n.T(ctx, "ColumnVariant"),
			i18n.T(ctx, "ColumnTask"), i18n.T(ctx, "ColumnAnswer"), i18n.T(ctx, "ColumnAccepted"),
			i18n.T(ctx, "ColumnResult"), i18n.T(ctx, "ColumnPercent"), i18n.T(ctx, "ColumnMark"),
		}
		if err := writeRow(f, sheet, 1, header); err != nil {
			return err
		}
		row := 2
		for _, v := range verdicts {
			for _, d := range v.Details {
				result := i18n.T(ctx, "CheckFail")
				if d.OK {
					result = i18n.T(ctx, "CheckOK")
				}
				cells := []any{v.FIO, v.Class, v.Variant, d.ID, d.Student, d.AcceptedText(), result, v.Percent, v.Mark}
				if err := writeRow(f, sheet, row, cells); err != nil {
					return err
				}
				row++
			}
		}
		if err := finishSheet(f, sheet, bold, "A", 32); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("xlsx row %d: %w", row, err)
	}
	return nil
}

func finishSheet(f *excelize.File, sheet string, headerStyle int, wideCol string, width float64) error {
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, wideCol, wideCol, width); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
