// Package reports turns spreadsheet data into the artifacts Baruc sends: chart
// images rendered by the chart microservice, and oracle-written MLTV and OP
// ZONES summaries.
package reports

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	_ "embed"

	"github.com/BTreeMap/Baruc/internal/sheets"
)

// Sampling temperatures for the text reports.
const (
	MLTVTemperature  = 0.3
	ZonesTemperature = 0.1
)

//go:embed prompts/mltv.txt
var mltvPrompt string

//go:embed prompts/zones.txt
var zonesPrompt string

var (
	mltvTemplate  = template.Must(template.New("mltv").Parse(mltvPrompt))
	zonesTemplate = template.Must(template.New("zones").Parse(zonesPrompt))
)

// CSVSource provides the chart input.
type CSVSource interface {
	GetDataAsCSV(ctx context.Context, period int, includeOrdersY bool) (string, error)
}

// MLTVSource provides the multivertical data block.
type MLTVSource interface {
	GetMLTVDataForAnalysis(ctx context.Context) (string, error)
}

// ZonesSource provides the aggregated zone figures.
type ZonesSource interface {
	GetOpZonesAnalysis(ctx context.Context) (sheets.ZoneAnalysis, error)
}

var _ CSVSource = (*sheets.Provider)(nil)
var _ MLTVSource = (*sheets.Provider)(nil)
var _ ZonesSource = (*sheets.Provider)(nil)

var spanishMonths = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// SpanishDate formats t as "03 de marzo de 2025".
func SpanishDate(t time.Time) string {
	return fmt.Sprintf("%02d de %s de %d", t.Day(), spanishMonths[t.Month()-1], t.Year())
}

type promptData struct {
	LastStart string
	LastEnd   string
	PrevStart string
	PrevEnd   string
	Data      string
}

func newPromptData(week sheets.Week, data string) promptData {
	prev := week.Previous()
	return promptData{
		LastStart: SpanishDate(week.Start),
		LastEnd:   SpanishDate(week.End),
		PrevStart: SpanishDate(prev.Start),
		PrevEnd:   SpanishDate(prev.End),
		Data:      data,
	}
}

func render(t *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}
