package report

import (
	"fmt"
	"html/template"
	"strings"
)

// HTML renders the report as a standalone dark-theme page, suitable for
// direct serving or PNG capture.
func (r *Report) HTML() (string, error) {
	var b strings.Builder
	if err := reportTmpl.Execute(&b, r); err != nil {
		return "", fmt.Errorf("render report template: %w", err)
	}
	return b.String(), nil
}

var reportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"value": formatValue,
	"chart": func(m MetricSummary) string { return chart(m.Series, m.Metric) },
	"changeClass": func(pct float64) string {
		if pct < 0 {
			return "down"
		}
		return "up"
	},
}).Parse(reportHTML))

const reportHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>DeFi Monitor Report</title>
<style>
  body { background: #0f0f23; color: #e0e0e0; font-family: ui-monospace, Menlo, Consolas, monospace; margin: 24px; }
  h1 { color: #00d4aa; font-size: 22px; margin-bottom: 4px; }
  .meta { color: #888; font-size: 13px; margin-bottom: 20px; }
  table { border-collapse: collapse; width: 100%; margin-bottom: 24px; }
  th { text-align: left; color: #00a8ff; border-bottom: 2px solid #333; padding: 6px 12px; }
  td { padding: 6px 12px; border-bottom: 1px solid #222; }
  tr:nth-child(even) td { background: #1a1a2e; }
  .up { color: #2ecc71; }
  .down { color: #e74c3c; }
  pre.chart { background: #1a1a2e; padding: 12px; font-size: 12px; line-height: 1.2; overflow-x: auto; }
</style>
</head>
<body>
<h1>DeFi Monitor Report</h1>
<p class="meta">Generated: {{.GeneratedAt.Format "2006-01-02 15:04:05"}} UTC &middot; Window: {{.Window}} &middot; Alerts: {{.AlertCount}}</p>
<table>
<tr><th>Metric</th><th>Latest</th><th>Change</th><th>Low</th><th>High</th></tr>
{{range .Metrics}}<tr>
<td>{{.Metric}}</td>
<td>{{value .Metric .Latest}}</td>
<td class="{{changeClass .ChangePct}}">{{printf "%+.2f" .ChangePct}}%</td>
<td>{{value .Metric .Min}}</td>
<td>{{value .Metric .Max}}</td>
</tr>
{{end}}</table>
{{range .Metrics}}{{if gt (len .Series) 1}}<pre class="chart">{{chart .}}</pre>
{{end}}{{end}}</body>
</html>
`
