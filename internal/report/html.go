package report

import (
	"html/template"
	"io"
	"strings"

	"github.com/yourorg/secuscan/internal/model"
)

var htmlTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"lower":        func(s model.Severity) string { return strings.ToLower(string(s)) },
	"join":         strings.Join,
	"unrecognized": unrecognized,
	"note":         func() string { return unrecognizedNote },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>secuscan report {{.ID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; vertical-align: top; }
.high { color: #b00020; font-weight: bold; }
.medium { color: #b36b00; }
.low { color: #006b8f; }
.warn { background: #fff4e5; padding: 8px; border: 1px solid #f0b429; }
</style>
</head>
<body>
<h1>secuscan report</h1>
<p>Target <code>{{.Target}}</code>, category <b>{{.Category}}</b>, scanners {{join .Scanners ", "}}.</p>
{{if unrecognized .}}<p class="warn">{{note}}</p>{{end}}
<p>{{.Summary.Total}} findings: {{.Summary.High}} high, {{.Summary.Medium}} medium, {{.Summary.Low}} low.</p>
{{if .Warnings}}<div class="warn">
<p><b>Scanned with reduced coverage.</b></p>
<ul>{{range .Warnings}}
<li><b>{{.Component}}</b>: {{.Message}}</li>{{end}}
</ul>
</div>{{end}}
{{if .Findings}}<table>
<tr><th>Severity</th><th>Type</th><th>File</th><th>Line</th><th>Description</th><th>Scanner</th></tr>{{range .Findings}}
<tr><td class="{{lower .Severity}}">{{.Severity}}</td><td>{{.Kind}}</td><td>{{.File}}</td><td>{{if .Line}}{{.Line}}{{end}}</td><td>{{.Description}}</td><td>{{.Scanner}}</td></tr>{{end}}
</table>{{else}}<p>No findings.</p>{{end}}
</body>
</html>
`))

// HTML renders a standalone HTML page.
type HTML struct{}

func (HTML) Write(w io.Writer, rep *model.Report) error {
	return htmlTmpl.Execute(w, rep)
}
