package html

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>CloudSweep Scan Report</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 2rem; color: #1f2933; }
h1 { border-bottom: 2px solid #3b82f6; padding-bottom: .5rem; }
h2 { margin-top: 2rem; }
table { border-collapse: collapse; width: 100%; margin-top: .75rem; }
th, td { border: 1px solid #d1d5db; padding: .45rem .6rem; text-align: left; vertical-align: top; font-size: .9rem; }
th { background: #f3f4f6; }
tr:nth-child(even) { background: #f9fafb; }
.summary { display: flex; gap: 2rem; flex-wrap: wrap; margin-top: 1rem; }
.summary div { background: #f3f4f6; border-radius: 6px; padding: .75rem 1.25rem; }
.summary .value { font-size: 1.4rem; font-weight: 600; }
td.reason { white-space: pre-line; }
td.details { white-space: pre-line; color: #4b5563; }
tfoot td { font-weight: 600; background: #eef2ff; }
</style>
</head>
<body>
<h1>CloudSweep Scan Report</h1>
<div class="summary">
  <div><div class="value">{{.GeneratedAt}}</div>Generated (UTC)</div>
  <div><div class="value">{{.Duration}}</div>Scan duration</div>
  <div><div class="value">{{.TotalScans}}</div>Total scans</div>
  <div><div class="value">{{.ScansPerSec}}</div>Scans / second</div>
</div>

<h2>Accounts and Regions</h2>
<table>
<thead><tr><th>Account</th><th>Regions</th></tr></thead>
<tbody>
{{- range $account := .AccountsOrder}}
<tr><td>{{$account}}</td><td>{{range $i, $r := index $.Accounts $account}}{{if $i}}, {{end}}{{$r}}{{end}}</td></tr>
{{- end}}
</tbody>
</table>

<h2>Findings by Resource Type</h2>
<table>
<thead><tr><th>Resource Type</th><th>Count</th></tr></thead>
<tbody>
{{- range $label, $count := .TypeCounts}}
<tr><td>{{$label}}</td><td>{{$count}}</td></tr>
{{- end}}
</tbody>
</table>

{{- if .HasCosts}}
<h2>Estimated Costs (USD)</h2>
<table>
<thead><tr><th>Resource Type</th><th>Hourly</th><th>Daily</th><th>Monthly</th><th>Yearly</th><th>Lifetime</th></tr></thead>
<tbody>
{{- range .CostRows}}
<tr><td>{{.Label}}</td><td>{{usd .Hourly}}</td><td>{{usd .Daily}}</td><td>{{usd .Monthly}}</td><td>{{usd .Yearly}}</td><td>{{usd .Lifetime}}</td></tr>
{{- end}}
</tbody>
<tfoot>
<tr><td>{{.Totals.Label}}</td><td>{{usd .Totals.Hourly}}</td><td>{{usd .Totals.Daily}}</td><td>{{usd .Totals.Monthly}}</td><td>{{usd .Totals.Yearly}}</td><td>{{usd .Totals.Lifetime}}</td></tr>
</tfoot>
</table>
{{- end}}

<h2>Findings</h2>
<table>
<thead><tr><th>Account</th><th>Region</th><th>Resource Type</th><th>Name</th><th>Resource ID</th><th>Reason</th><th>Details</th></tr></thead>
<tbody>
{{- range .Rows}}
<tr>
  <td>{{.AccountID}}</td>
  <td>{{.Region}}</td>
  <td>{{.ResourceType}}</td>
  <td>{{.Name}}</td>
  <td>{{.ResourceID}}</td>
  <td class="reason">{{.Reason}}</td>
  <td class="details">{{.Details}}</td>
</tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`
