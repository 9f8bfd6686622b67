package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/stemsi/kontrol-backend/internal/console"
	"github.com/stemsi/kontrol-backend/internal/i18n"
)

const (
	pdfMargin    = 12.5
	pdfLine      = 6.0
	pdfRow       = 6.5
	bodyFamily   = "body"
	latinFamily  = "Helvetica"
	ellipsis     = "..."
	maxCellRunes = 200
)

// column widths in mm: №, answer, accepted, result.
var pdfColumns = []float64{14, 68, 78, 25}

// PDFOptions configures the printable report.
type PDFOptions struct {
	Title string
	// FontPath is a UTF-8 TrueType font. Without it the core Helvetica font is
	// used and Cyrillic text is transliterated.
	FontPath string
}

// WritePDF renders one card per verdict: identity, score line and the task table.
func WritePDF(ctx context.Context, w io.Writer, verdicts []console.Verdict, opts PDFOptions) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)

	family := latinFamily
	text := transliterate
	if opts.FontPath != "" {
		pdf.AddUTF8Font(bodyFamily, "", opts.FontPath)
		pdf.AddUTF8Font(bodyFamily, "B", opts.FontPath)
		if pdf.Err() {
			return fmt.Errorf("pdf font %s: %w", opts.FontPath, pdf.Error())
		}
		family = bodyFamily
		text = func(s string) string { return s }
	}

	title := opts.Title
	if title == "" {
		title = i18n.T(ctx, "ReportTitle")
	}

	pdf.AddPage()
	pdf.SetFont(family, "B", 18)
	pdf.CellFormat(0, 10, text(title), "", 1, "L", false, 0, "")
	pdf.SetFont(family, "", 11)
	pdf.SetTextColor(85, 85, 85)
	pdf.CellFormat(0, pdfLine, text(i18n.Td(ctx, "ReportChecked", map[string]any{"Count": len(verdicts)})), "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	headers := []string{
		i18n.T(ctx, "ColumnTask"), i18n.T(ctx, "ColumnAnswer"),
		i18n.T(ctx, "ColumnAccepted"), i18n.T(ctx, "ColumnResult"),
	}

	for _, v := range verdicts {
		pdf.SetFont(family, "B", 13)
		pdf.CellFormat(0, pdfLine+1, text(fmt.Sprintf("%s (%s)", dash(v.FIO), dash(v.Class))), "", 1, "L", false, 0, "")

		pdf.SetFont(family, "", 10)
		pdf.SetTextColor(85, 85, 85)
		score := i18n.Td(ctx, "ReportScore", map[string]any{
			"Earned":  formatNumber(v.Earned),
			"Max":     formatNumber(v.Max),
			"Percent": v.Percent,
			"Mark":    v.Mark,
			"Variant": v.Variant,
		})
		pdf.CellFormat(0, pdfLine, text(score), "", 1, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(1)

		pdf.SetFont(family, "B", 10)
		pdf.SetFillColor(235, 235, 235)
		for i, h := range headers {
			pdf.CellFormat(pdfColumns[i], pdfRow, text(h), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont(family, "", 10)
		for _, d := range v.Details {
			result := i18n.T(ctx, "CheckFail")
			if d.OK {
				result = i18n.T(ctx, "CheckOK")
			}
			student := d.Student
			if d.Empty {
				student = "-"
			}
			cells := []string{d.ID, student, d.AcceptedText(), result}
			for i, c := range cells {
				pdf.CellFormat(pdfColumns[i], pdfRow, fit(pdf, text(c), pdfColumns[i]-2), "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
		pdf.Ln(6)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("pdf output: %w", err)
	}
	return nil
}

// fit shortens s with an ellipsis until it fits width.
func fit(pdf *gofpdf.Fpdf, s string, width float64) string {
	r := []rune(s)
	if len(r) > maxCellRunes {
		r = r[:maxCellRunes]
	}
	s = string(r)
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	for len(r) > 0 {
		r = r[:len(r)-1]
		if cand := string(r) + ellipsis; pdf.GetStringWidth(cand) <= width {
			return cand
		}
	}
	return ""
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

var translit = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e", 'ж': "zh",
	'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m", 'н': "n", 'о': "o",
	'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u", 'ф': "f", 'х': "kh", 'ц': "ts",
	'ч': "ch", 'ш': "sh", 'щ': "shch", 'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu",
	'я': "ya", '№': "No", '•': "-", '«': "\"", '»': "\"", '—': "-", '–': "-",
}

// transliterate maps Cyrillic to Latin for the core fonts, which only cover
// Windows-1252. Other runes outside ASCII become '?'.
func transliterate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		lower := []rune(strings.ToLower(string(r)))[0]
		if t, ok := translit[lower]; ok {
			if lower != r && t != "" {
				t = strings.ToUpper(t[:1]) + t[1:]
			}
			b.WriteString(t)
			continue
		}
		if r < 128 {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('?')
	}
	return b.String()
}
