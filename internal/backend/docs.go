package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/rpattn/datafusion/internal/domain"
)

var docsTemplate = template.Must(template.New("manifest").Funcs(template.FuncMap{
	"inputs": func(in []string) string {
		if len(in) == 0 {
			return "-"
		}
		return strings.Join(in, ", ")
	},
}).Parse(`# Data Fusion Manifest

## Overview
Merged data from 2 source files with {{len .Mappings}} mappings applied.

## Mappings
| Left Column | Right Column | Candidate |
|------------|--------------|-----------|
{{- range .Mappings}}
| {{.FromColumn}} | {{.ToColumn}} | {{.CandidateID}} |
{{- end}}
{{- if .Transforms}}

## Transforms
| Target | Kind | Inputs | Enabled |
|--------|------|--------|---------|
{{- range .Transforms}}
| {{.TargetColumn}} | {{.Kind}} | {{inputs .Inputs}} | {{.Enabled}} |
{{- end}}
{{- end}}

## Configuration
- **Threshold**: {{printf "%.2f" .Threshold}}
- **Run ID**: {{.RunID}}

Generated on: {{.GeneratedAt}}
`))

type docsManifest struct {
	Version    string  `json:"version"`
	RunID      string  `json:"runId"`
	Threshold  float64 `json:"threshold"`
	Mappings   int     `json:"mappings"`
	Transforms int     `json:"transforms"`
	Status     string  `json:"status"`
}

// RenderDocs produces the markdown and JSON manifest for a set of approved mappings.
func RenderDocs(req domain.DocsRequest, now time.Time) (domain.DocsResponse, error) {
	var md bytes.Buffer
	err := docsTemplate.Execute(&md, struct {
		domain.DocsRequest
		GeneratedAt string
	}{req, now.UTC().Format(time.RFC3339)})
	if err != nil {
		return domain.DocsResponse{}, fmt.Errorf("render markdown: %w", err)
	}

	manifest, err := json.MarshalIndent(docsManifest{
		Version:    "1.0",
		RunID:      req.RunID,
		Threshold:  req.Threshold,
		Mappings:   len(req.Mappings),
		Transforms: len(req.Transforms),
		Status:     "generated",
	}, "", "  ")
	if err != nil {
		return domain.DocsResponse{}, fmt.Errorf("render manifest: %w", err)
	}
	return domain.DocsResponse{Markdown: md.String(), JSON: string(manifest)}, nil
}
