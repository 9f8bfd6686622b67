package export

import (
	"context"
	"html/template"
	"io"

	"github.com/stemsi/kontrol-backend/internal/console"
	"github.com/stemsi/kontrol-backend/internal/i18n"
)

var printTemplate = template.Must(template.New("print").Parse(`<!doctype html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
  body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Arial,sans-serif;margin:18px;color:#111}
  h1{margin:0 0 8px}
  .muted{color:#555}
  .card{page-break-inside:avoid;border:1px solid #ddd;border-radius:12px;padding:12px;margin:0 0 14px}
  table{width:100%;border-collapse:collapse;margin-top:10px;font-size:12px}
  th{text-align:left;padding:6px 8px;border-bottom:2px solid #999}
  td{padding:6px 8px;border-bottom:1px solid #ddd;vertical-align:top}
  @media print{body{margin:10mm}}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<div class="muted">{{.Checked}}</div>
{{range .Cards}}
<div class="card">
  <div><b>{{.Who}}</b></div>
  <div class="muted">{{.Score}}</div>
  <table>
    <thead><tr>{{range $.Headers}}<th>{{.}}</th>{{end}}</tr></thead>
    <tbody>
    {{range .Rows}}<tr><td><b>{{.ID}}</b></td><td>{{.Student}}</td><td class="muted">{{.Accepted}}</td><td>{{.Result}}</td></tr>
    {{end}}
    </tbody>
  </table>
</div>
{{end}}
</body>
</html>
`))

type printRow struct {
	ID, Student, Accepted, Result string
}

type printCard struct {
	Who, Score string
	Rows       []printRow
}

type printPage struct {
	Lang, Title, Checked string
	Headers              []string
	Cards                []printCard
}

// WriteHTML renders the printable report page. All values are escaped.
func WriteHTML(ctx context.Context, w io.Writer, verdicts []console.Verdict, title, lang string) error {
	if title == "" {
		title = i18n.T(ctx, "ReportTitle")
	}
	page := printPage{
		Lang:    lang,
		Title:   title,
		Checked: i18n.Td(ctx, "ReportChecked", map[string]any{"Count": len(verdicts)}),
		Headers: []string{
			i18n.T(ctx, "ColumnTask"), i18n.T(ctx, "ColumnAnswer"),
			i18n.T(ctx, "ColumnAccepted"), i18n.T(ctx, "ColumnResult"),
		},
	}
	for _, v := range verdicts {
		card := printCard{
			Who: dash(v.FIO) + " (" + dash(v.Class) + ")",
			Score: i18n.Td(ctx, "ReportScore", map[string]any{
				"Earned":  formatNumber(v.Earned),
				"Max":     formatNumber(v.Max),
				"Percent": v.Percent,
				"Mark":    v.Mark,
				"Variant": v.Variant,
			}),
		}
		for _, d := range v.Details {
			result := i18n.T(ctx, "CheckFail")
			if d.OK {
				result = i18n.T(ctx, "CheckOK")
			}
			student := d.Student
			if d.Empty {
				student = "—"
			}
			card.Rows = append(card.Rows, printRow{ID: d.ID, Student: student, Accepted: d.AcceptedText(), Result: result})
		}
		page.Cards = append(page.Cards, card)
	}
	return printTemplate.Execute(w, page)
}
