package report

import "html/template"

// view is the data rendered into the report template.
type view struct {
	SubjectID    string
	DriverName   string
	Period       string
	Position     int
	CohortSize   int
	TotalScore   int
	TopPerformer bool
	Rows         []row
	HasPrior     bool
	PriorPeriod  string
}

type row struct {
	Label    string
	Value    string
	Prior    string
	Target   string
	Met      bool
	Targeted bool
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Driver report {{.SubjectID}} {{.Period}}</title>
<style>
body { font-family: sans-serif; }
td.met { color: #1a7f37; }
td.missed { color: #cf222e; }
.top { font-weight: bold; color: #9a6700; }
</style>
</head>
<body>
<h1>{{.DriverName}}</h1>
<p>Period {{.Period}} &middot; position {{.Position}} of {{.CohortSize}} &middot; score {{.TotalScore}}</p>
{{if .TopPerformer}}<p class="top">Top performer</p>{{end}}
<table>
<tr><th>Metric</th><th>Value</th><th>Target</th>{{if .HasPrior}}<th>{{.PriorPeriod}}</th>{{end}}</tr>
{{range .Rows}}<tr>
<td>{{.Label}}</td>
<td{{if .Targeted}} class="{{if .Met}}met{{else}}missed{{end}}"{{end}}>{{.Value}}</td>
<td>{{.Target}}</td>
{{if $.HasPrior}}<td>{{.Prior}}</td>{{end}}
</tr>
{{end}}</table>
{{if not .HasPrior}}<p>No earlier data: first report for this driver.</p>{{end}}
</body>
</html>
`))
