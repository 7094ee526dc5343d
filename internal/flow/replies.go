package flow

import (
	"bytes"
	"fmt"
	"text/template"

	_ "embed"

	"github.com/BTreeMap/Baruc/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed replies.yaml
var defaultReplies []byte

// Questions holds the follow-up question per missing field.
type Questions struct {
	Variable        string `yaml:"variable"`
	Period          string `yaml:"periodo"`
	ReportTypeMLTV  string `yaml:"tipo_reporte_mltv"`
	ReportTypeZones string `yaml:"tipo_reporte_zones"`
	Default         string `yaml:"default"`
}

// ExecutionMessages holds the acknowledgment sent when a workflow starts.
type ExecutionMessages struct {
	Charts  string `yaml:"charts"`
	MLTV    string `yaml:"mltv"`
	Zones   string `yaml:"zones"`
	Default string `yaml:"default"`
}

// Replies is the user-facing text catalog of the dialogue.
type Replies struct {
	WakeWord    string            `yaml:"wake_word"`
	CancelWords []string          `yaml:"cancel_words"`
	EndWords    []string          `yaml:"end_words"`
	Cancelled   string            `yaml:"cancelled"`
	Closing     string            `yaml:"closing"`
	Greetings   []string          `yaml:"greetings"`
	Menu        string            `yaml:"menu"`
	Questions   Questions         `yaml:"questions"`
	Executing   ExecutionMessages `yaml:"executing"`

	chartsTmpl *template.Template
}

// LoadReplies parses a YAML catalog.
func LoadReplies(data []byte) (*Replies, error) {
	var r Replies
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse reply catalog: %w", err)
	}
	if len(r.Greetings) == 0 || r.Menu == "" || r.Cancelled == "" || r.Closing == "" {
		return nil, fmt.Errorf("reply catalog is incomplete")
	}
	tmpl, err := template.New("charts").Parse(r.Executing.Charts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse charts acknowledgment: %w", err)
	}
	r.chartsTmpl = tmpl
	return &r, nil
}

// DefaultReplies returns the embedded Spanish catalog.
func DefaultReplies() *Replies {
	r, err := LoadReplies(defaultReplies)
	if err != nil {
		panic(err)
	}
	return r
}

// Question returns the follow-up question for a missing field.
func (r *Replies) Question(rec models.IntentRecord, field models.Field) string {
	switch field {
	case models.FieldVariable:
		return r.Questions.Variable
	case models.FieldPeriod:
		return r.Questions.Period
	case models.FieldReportType:
		if rec.Kind == models.IntentMultivertical {
			return r.Questions.ReportTypeMLTV
		}
		return r.Questions.ReportTypeZones
	}
	return r.Questions.Default
}

// Execution returns the acknowledgment for a workflow about to run.
func (r *Replies) Execution(rec models.IntentRecord) string {
	switch rec.Kind {
	case models.IntentCharts:
		data := struct {
			Variable string
			Period   int
		}{
			Variable: rec.Variable.Label(),
			Period:   rec.PeriodOr(0),
		}
		var buf bytes.Buffer
		if err := r.chartsTmpl.Execute(&buf, data); err != nil {
			return r.Executing.Default
		}
		return buf.String()
	case models.IntentMultivertical:
		return r.Executing.MLTV
	case models.IntentZones:
		return r.Executing.Zones
	}
	return r.Executing.Default
}
