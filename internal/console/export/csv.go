// Package export renders console lists and autocheck verdicts as CSV, XLSX,
// PDF and printable HTML.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/stemsi/kontrol-backend/internal/console"
	"github.com/stemsi/kontrol-backend/internal/model"
)

// ListColumns is the header of the list export.
var ListColumns = []string{"fio", "cls", "variant", "createdAt", "percent", "mark", "voided", "key"}

// ReportColumns is the header of the autocheck export.
var ReportColumns = []string{"fio", "cls", "variant", "createdAt", "ok", "total", "empty", "earned", "max", "percent", "mark", "key"}

func newCSVWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	cw.UseCRLF = true
	return cw
}

// WriteCSV writes list items as ';'-separated CRLF rows. Fields containing
// the separator, quotes or line breaks are quoted.
func WriteCSV(w io.Writer, items []model.ListItem) error {
	cw := newCSVWriter(w)
	if err := cw.Write(ListColumns); err != nil {
		return err
	}
	for _, it := range items {
		if err := cw.Write(listRow(it)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteReportCSV writes autocheck verdicts, one row per record.
func WriteReportCSV(w io.Writer, verdicts []console.Verdict) error {
	cw := newCSVWriter(w)
	if err := cw.Write(ReportColumns); err != nil {
		return err
	}
	for _, v := range verdicts {
		if err := cw.Write(reportRow(v)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func listRow(it model.ListItem) []string {
	percent := ""
	if it.Percent != nil {
		percent = formatNumber(*it.Percent)
	}
	voided := "0"
	if it.Voided {
		voided = "1"
	}
	return []string{it.FIO, it.Class, it.Variant, it.CreatedAt, percent, it.Mark, voided, it.Key}
}

func reportRow(v console.Verdict) []string {
	return []string{
		v.FIO, v.Class, v.Variant, v.CreatedAt,
		strconv.Itoa(v.OK), strconv.Itoa(v.Total), strconv.Itoa(v.Empty),
		formatNumber(v.Earned), formatNumber(v.Max),
		strconv.Itoa(v.Percent), v.Mark, v.Key,
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
