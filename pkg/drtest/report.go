package drtest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/types"
)

var reportTemplate = template.Must(template.New("dr-report").Parse(`<!DOCTYPE html>
<html>
<head><title>DR Test Report {{.ID}}</title></head>
<body>
<h1>DR Test Execution {{.ID}}</h1>
<p>Status: {{.Status}}</p>
<p>Started: {{.StartedAt}}</p>
<p>Ended: {{.EndedAt}}</p>
<table border="1" cellpadding="4">
<tr><th>Scenario</th><th>Status</th><th>Expected</th><th>Actual</th><th>Issues</th></tr>
{{range .Results}}
<tr>
<td>{{.ScenarioName}}</td>
<td>{{.Status}}</td>
<td>{{.ExpectedRecoveryTime}}</td>
<td>{{.ActualRecoveryTime}}</td>
<td>{{range .Issues}}{{.Severity}}: {{.Message}}<br/>{{end}}</td>
</tr>
{{end}}
</table>
</body>
</html>
`))

// RenderReport renders execution in the requested format (json, html, csv).
func RenderReport(execution *types.TestExecution, format string) ([]byte, error) {
	switch format {
	case "json":
		return renderJSON(execution)
	case "html":
		return renderHTML(execution)
	case "csv":
		return renderCSV(execution)
	default:
		return nil, errs.New(errs.KindInvalidArgument, "unsupported report format "+format)
	}
}

func renderJSON(execution *types.TestExecution) ([]byte, error) {
	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return nil, errs.Wrap(errs.KindUnexpected, "rendering json report", err)
	}
	return data, nil
}

func renderHTML(execution *types.TestExecution) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, execution); err != nil {
		return nil, errs.Wrap(errs.KindUnexpected, "rendering html report", err)
	}
	return buf.Bytes(), nil
}

func renderCSV(execution *types.TestExecution) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"scenario", "status", "expectedRecoverySeconds", "actualRecoverySeconds", "issueCount"}); err != nil {
		return nil, errs.Wrap(errs.KindUnexpected, "writing csv header", err)
	}
	for _, r := range execution.Results {
		row := []string{
			r.ScenarioName,
			string(r.Status),
			fmt.Sprintf("%.2f", r.ExpectedRecoveryTime.Seconds()),
			fmt.Sprintf("%.2f", r.ActualRecoveryTime.Seconds()),
			fmt.Sprintf("%d", len(r.Issues)),
		}
		if err := w.Write(row); err != nil {
			return nil, errs.Wrap(errs.KindUnexpected, "writing csv row", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errs.Wrap(errs.KindUnexpected, "flushing csv report", err)
	}
	return buf.Bytes(), nil
}
