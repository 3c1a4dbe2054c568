// internal/report/render.go
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"bentokaze/internal/models"
)

type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatYAML     Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", &ReportError{Reason: fmt.Sprintf("unsupported report format %q", s)}
}

func (r *Report) Render(format Format) ([]byte, error) {
	switch format {
	case FormatMarkdown, "":
		return []byte(r.Markdown()), nil
	case FormatYAML:
		out, err := yaml.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("failed to encode report: %w", err)
		}
		return out, nil
	}
	return nil, &ReportError{Reason: fmt.Sprintf("unsupported report format %q", format)}
}

// Markdown renders the report. Non-optimal runs only carry the status line.
func (r *Report) Markdown() string {
	var b bytes.Buffer
	b.WriteString("# Optimization Report\n\n")
	fmt.Fprintf(&b, "**Status:** %s\n", r.Status)
	res := r.Results
	if res == nil {
		return b.String()
	}

	if r.RunID != "" {
		fmt.Fprintf(&b, "**Run:** %s\n", r.RunID)
	}
	if r.Solver != "" {
		fmt.Fprintf(&b, "**Solver:** %s\n", r.Solver)
	}

	b.WriteString("\n## Results\n\n")
	fmt.Fprintf(&b, "| Item | Category | Mass (%s) | Cost |\n", res.Unit)
	b.WriteString("| --- | --- | ---: | ---: |\n")
	for _, item := range res.Items {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", item.Name, item.Category, decimal(item.Mass), decimal(item.Cost))
	}

	b.WriteString("\n## Nutrients\n\n")
	b.WriteString("| Nutrient | Achieved | Target | |\n")
	b.WriteString("| --- | ---: | ---: | --- |\n")
	for _, n := range res.Nutrients {
		target, flag := "-", ""
		if n.Target != nil {
			target = operator(n.Direction) + " " + strconv.FormatFloat(*n.Target, 'g', -1, 64)
		}
		if n.Violated {
			flag = "VIOLATED"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", n.Nutrient, decimal(n.Achieved), target, flag)
	}

	b.WriteString("\n## Totals\n\n")
	volume := fmt.Sprintf("- **Volume**: %s / %s", decimal(res.Volume), strconv.FormatFloat(res.VolumeBudget, 'g', -1, 64))
	if res.VolumeViolated {
		volume += " VIOLATED"
	}
	b.WriteString(volume + "\n")
	fmt.Fprintf(&b, "- **Cost**: %s\n", decimal(res.Cost))

	if len(res.Categories) > 0 {
		b.WriteString("\n## Categories\n\n")
		for _, c := range res.Categories {
			fmt.Fprintf(&b, "- **%s**: %s %s\n", c.Category, decimal(c.Mass), res.Unit)
		}
	}
	return b.String()
}

// WriteFile renders the report to path, creating parent directories.
func (r *Report) WriteFile(path string, format Format) error {
	out, err := r.Render(format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func decimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func operator(d models.Direction) string {
	if d == models.AtLeast {
		return ">="
	}
	return "<="
}
