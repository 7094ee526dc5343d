// Package intent resolves free-text chat messages into structured intents.
//
// The Classifier renders the bounded conversation history into a prompt, asks
// the text-generation oracle for a JSON verdict and parses the reply leniently. It
// never fails: oracle errors and malformed output degrade to an unknown intent.
package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"text/template"

	_ "embed"

	"github.com/BTreeMap/Baruc/internal/genai"
	"github.com/BTreeMap/Baruc/internal/models"
)

// DefaultTemperature is the sampling temperature used for classification.
const DefaultTemperature = 0.2

//go:embed prompts/classifier.txt
var classifierPrompt string

var classifierTemplate = template.Must(template.New("classifier").Parse(classifierPrompt))

// Outcome tags how a classification concluded.
type Outcome int

const (
	// OutcomeClassified means the oracle answered with well-formed JSON.
	OutcomeClassified Outcome = iota
	// OutcomeUnparseable means the oracle answered but the reply could not be parsed.
	OutcomeUnparseable
	// OutcomeOracleError means the oracle call itself failed.
	OutcomeOracleError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClassified:
		return "classified"
	case OutcomeUnparseable:
		return "unparseable"
	case OutcomeOracleError:
		return "oracle_error"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Analysis is the classifier's verdict on a conversation.
type Analysis struct {
	Intent        models.IntentRecord
	NeedsMoreInfo bool
	MissingField  models.Field
	ShouldExecute bool
	Summary       string
}

// Result wraps an Analysis with how it was obtained. For any outcome other than
// OutcomeClassified, Analysis holds the unknown-intent fallback and Err the cause.
type Result struct {
	Outcome  Outcome
	Analysis Analysis
	Err      error
}

// Fallback is the analysis used whenever the oracle cannot be understood.
func Fallback() Analysis {
	return Analysis{
		Intent:  models.IntentRecord{Kind: models.IntentUnknown},
		Summary: "Error en análisis",
	}
}

// Classifier maps a conversation snapshot to an Analysis.
type Classifier struct {
	oracle      genai.Generator
	temperature float64
}

// NewClassifier creates a Classifier backed by the given oracle.
func NewClassifier(oracle genai.Generator) *Classifier {
	return &Classifier{oracle: oracle, temperature: DefaultTemperature}
}

type promptData struct {
	Messages       []models.ConversationMessage
	State          models.ConversationState
	PreviousIntent string
	WaitingFor     models.Field
	JustCompleted  bool
}

// BuildPrompt renders the classification prompt for a snapshot.
func BuildPrompt(snapshot models.ConversationContext) (string, error) {
	prev := "{}"
	if snapshot.CurrentIntent != nil {
		if b, err := json.Marshal(snapshot.CurrentIntent); err == nil {
			prev = string(b)
		}
	}
	var buf bytes.Buffer
	err := classifierTemplate.Execute(&buf, promptData{
		Messages:       snapshot.Messages,
		State:          snapshot.State,
		PreviousIntent: prev,
		WaitingFor:     snapshot.WaitingFor,
		JustCompleted:  snapshot.JustCompleted,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render classifier prompt: %w", err)
	}
	return buf.String(), nil
}

// Classify asks the oracle about the snapshot. It does not touch any context.
func (c *Classifier) Classify(ctx context.Context, snapshot models.ConversationContext) Result {
	prompt, err := BuildPrompt(snapshot)
	if err != nil {
		slog.Error("Classifier.Classify: prompt rendering failed", "error", err, "chat_id", snapshot.ChatID)
		return Result{Outcome: OutcomeOracleError, Analysis: Fallback(), Err: err}
	}

	raw, err := c.oracle.Generate(ctx, prompt, genai.GenerateOptions{Temperature: c.temperature})
	if err != nil {
		slog.Error("Classifier.Classify: oracle failed", "error", err, "chat_id", snapshot.ChatID)
		return Result{Outcome: OutcomeOracleError, Analysis: Fallback(), Err: err}
	}

	analysis, err := ParseAnalysis(raw)
	if err != nil {
		slog.Warn("Classifier.Classify: unparseable oracle reply", "error", err, "chat_id", snapshot.ChatID, "raw_length", len(raw))
		return Result{Outcome: OutcomeUnparseable, Analysis: Fallback(), Err: err}
	}

	slog.Debug("Classifier.Classify: classified",
		"chat_id", snapshot.ChatID,
		"intent", analysis.Intent.Kind,
		"needs_more_info", analysis.NeedsMoreInfo,
		"missing_field", analysis.MissingField,
		"should_execute", analysis.ShouldExecute)
	return Result{Outcome: OutcomeClassified, Analysis: analysis}
}

type rawIntent struct {
	Intencion   string          `json:"intencion"`
	Variable    *string         `json:"variable"`
	Periodo     json.RawMessage `json:"periodo"`
	TipoReporte *string         `json:"tipo_reporte"`
}

type rawAnalysis struct {
	Intent         rawIntent `json:"intent"`
	NeedsMoreInfo  bool      `json:"needsMoreInfo"`
	MissingField   *string   `json:"missingField"`
	ShouldExecute  bool      `json:"shouldExecute"`
	ContextSummary string    `json:"contextSummary"`
}

// ParseAnalysis decodes an oracle reply, tolerating code fences and prose
// around the JSON object. Unknown enum values are dropped and the period is
// clamped to the supported range.
func ParseAnalysis(reply string) (Analysis, error) {
	text := genai.StripCodeFence(reply)

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return Analysis{}, fmt.Errorf("failed to parse classifier reply: %w", err)
		}
		if err2 := json.Unmarshal([]byte(text[start:end+1]), &raw); err2 != nil {
			return Analysis{}, fmt.Errorf("failed to parse classifier reply: %w", err2)
		}
	}

	kind, err := models.ParseIntentKind(raw.Intent.Intencion)
	if err != nil {
		slog.Debug("ParseAnalysis: unknown intent label", "label", raw.Intent.Intencion)
	}
	rec := models.IntentRecord{Kind: kind}

	if s := nullable(raw.Intent.Variable); s != "" {
		if v, err := models.ParseChartVariable(s); err == nil {
			rec.Variable = v
		}
	}
	if s := nullable(raw.Intent.TipoReporte); s != "" {
		if r, err := models.ParseReportType(s); err == nil {
			rec.ReportType = r
		}
	}
	if p, ok := parsePeriod(raw.Intent.Periodo); ok {
		rec = rec.WithPeriod(p)
	}

	field, err := models.ParseField(nullable(raw.MissingField))
	if err != nil {
		field = models.FieldNone
	}

	return Analysis{
		Intent:        rec,
		NeedsMoreInfo: raw.NeedsMoreInfo,
		MissingField:  field,
		ShouldExecute: raw.ShouldExecute,
		Summary:       raw.ContextSummary,
	}, nil
}

// nullable treats nil, empty and the literal "null" as absent.
func nullable(s *string) string {
	if s == nil {
		return ""
	}
	v := strings.TrimSpace(*s)
	if strings.EqualFold(v, "null") {
		return ""
	}
	return v
}

// parsePeriod accepts a JSON number or a numeric string.
func parsePeriod(raw json.RawMessage) (int, bool) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, false
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		if nullable(&s) == "" {
			return 0, false
		}
		p, err := models.ParseWeeks(s)
		return p, err == nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	// Bound before converting: int() of a huge float is implementation-defined.
	f = math.Max(math.Min(f, math.MaxInt32), math.MinInt32)
	return int(f), true
}
