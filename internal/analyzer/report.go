package analyzer

import (
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/duskrow/perpbacktest/internal/experiment"
)

// Format selects the output shape Report renders.
type Format string

const (
	Markdown Format = "markdown"
	JSON     Format = "json"
	HTML     Format = "html"
)

// ReportOptions parameterizes Report. Metric/Direction select the top-k
// ranking (correlation fields are listed alphabetically regardless of
// Metric); a zero TopK defaults to 10,
// a zero ImportanceSeed still reproduces deterministically (it's just
// seed 0, not "no seed").
type ReportOptions struct {
	Name           string
	TopK           int
	Metric         string
	Direction      experiment.Direction
	ImportanceSeed int64
	Fields         []string // correlation fields; empty means "infer from data"
}

type reportData struct {
	Name                string                         `json:"name"`
	TotalRuns           int                            `json:"total_runs"`
	CompletedRuns       int                            `json:"completed_runs"`
	FailedRuns          int                            `json:"failed_runs"`
	SkippedRuns         int                            `json:"skipped_runs"`
	Metric              string                         `json:"metric"`
	Top                 []experiment.TaskResult        `json:"top"`
	ParameterImportance map[string]float64             `json:"parameter_importance"`
	Correlation         map[string]map[string]float64  `json:"correlation"`
}

// Report summarizes runs as markdown, json, or html.
func Report(runs []experiment.TaskResult, format Format, opts ReportOptions) (string, error) {
	k := opts.TopK
	if k <= 0 {
		k = 10
	}
	fields := opts.Fields
	if len(fields) == 0 {
		fields = defaultFields(runs)
	}

	data := reportData{
		Name:                opts.Name,
		TotalRuns:           len(runs),
		Metric:              opts.Metric,
		Top:                 Top(runs, k, opts.Metric, opts.Direction),
		ParameterImportance: ParameterImportance(runs, opts.Metric, opts.ImportanceSeed),
		Correlation:         CorrelationMatrix(runs, fields),
	}
	for _, r := range runs {
		switch r.Status {
		case "completed":
			data.CompletedRuns++
		case "failed":
			data.FailedRuns++
		case "skipped":
			data.SkippedRuns++
		}
	}

	switch format {
	case JSON:
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("analyzer: marshal report: %w", err)
		}
		return string(b), nil
	case HTML:
		return renderHTML(data), nil
	case Markdown, "":
		return renderMarkdown(data), nil
	default:
		return "", fmt.Errorf("analyzer: unknown report format %q", format)
	}
}

func renderMarkdown(d reportData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Experiment Report: %s\n\n", d.Name)
	fmt.Fprintf(&b, "- **Total runs**: %d\n", d.TotalRuns)
	fmt.Fprintf(&b, "- **Completed**: %d\n", d.CompletedRuns)
	fmt.Fprintf(&b, "- **Failed**: %d\n", d.FailedRuns)
	fmt.Fprintf(&b, "- **Skipped**: %d\n\n", d.SkippedRuns)

	b.WriteString("## Top Runs\n\n")
	if len(d.Top) == 0 {
		b.WriteString("No completed runs with the chosen metric.\n\n")
	} else {
		fmt.Fprintf(&b, "| Rank | Symbol | Combo | %s | Params |\n", d.Metric)
		b.WriteString("|-----:|--------|-------|---:|--------|\n")
		for i, r := range d.Top {
			fmt.Fprintf(&b, "| %d | %s | %s | %.6f | %s |\n",
				i+1, r.Symbol, r.ComboID, r.Metrics[d.Metric], formatParams(r.Params))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Parameter Importance\n\n")
	if len(d.ParameterImportance) == 0 {
		b.WriteString("Not enough completed runs to compute importance.\n\n")
	} else {
		b.WriteString("| Parameter | Importance |\n")
		b.WriteString("|-----------|----------:|\n")
		for _, name := range sortedImportanceKeys(d.ParameterImportance) {
			fmt.Fprintf(&b, "| %s | %.4f |\n", name, d.ParameterImportance[name])
		}
		b.WriteString("\n")
	}

	b.WriteString("## Correlation Matrix\n\n")
	fields := sortedCorrelationFields(d.Correlation)
	if len(fields) == 0 {
		b.WriteString("No numeric fields available.\n\n")
	} else {
		b.WriteString("|  | " + strings.Join(fields, " | ") + " |\n")
		b.WriteString("|--|" + strings.Repeat("--|", len(fields)) + "\n")
		for _, a := range fields {
			row := make([]string, len(fields))
			for i, bF := range fields {
				row[i] = fmt.Sprintf("%.2f", d.Correlation[a][bF])
			}
			fmt.Fprintf(&b, "| %s | %s |\n", a, strings.Join(row, " | "))
		}
	}

	return b.String()
}

func renderHTML(d reportData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<h1>Experiment Report: %s</h1>\n", html.EscapeString(d.Name))
	fmt.Fprintf(&b, "<ul><li>Total runs: %d</li><li>Completed: %d</li><li>Failed: %d</li><li>Skipped: %d</li></ul>\n",
		d.TotalRuns, d.CompletedRuns, d.FailedRuns, d.SkippedRuns)

	b.WriteString("<h2>Top Runs</h2>\n<table border=\"1\"><tr><th>Rank</th><th>Symbol</th><th>Combo</th><th>")
	b.WriteString(html.EscapeString(d.Metric))
	b.WriteString("</th><th>Params</th></tr>\n")
	for i, r := range d.Top {
		fmt.Fprintf(&b, "<tr><td>%d</td><td>%s</td><td>%s</td><td>%.6f</td><td>%s</td></tr>\n",
			i+1, html.EscapeString(r.Symbol), html.EscapeString(r.ComboID), r.Metrics[d.Metric], html.EscapeString(formatParams(r.Params)))
	}
	b.WriteString("</table>\n")

	b.WriteString("<h2>Parameter Importance</h2>\n<table border=\"1\"><tr><th>Parameter</th><th>Importance</th></tr>\n")
	for _, name := range sortedImportanceKeys(d.ParameterImportance) {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%.4f</td></tr>\n", html.EscapeString(name), d.ParameterImportance[name])
	}
	b.WriteString("</table>\n")

	fields := sortedCorrelationFields(d.Correlation)
	b.WriteString("<h2>Correlation Matrix</h2>\n<table border=\"1\"><tr><th></th>")
	for _, f := range fields {
		fmt.Fprintf(&b, "<th>%s</th>", html.EscapeString(f))
	}
	b.WriteString("</tr>\n")
	for _, a := range fields {
		fmt.Fprintf(&b, "<tr><th>%s</th>", html.EscapeString(a))
		for _, bF := range fields {
			fmt.Fprintf(&b, "<td>%.2f</td>", d.Correlation[a][bF])
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString("</table>\n")

	return b.String()
}

func formatParams(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return strings.Join(parts, ", ")
}

func sortedImportanceKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCorrelationFields(m map[string]map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
