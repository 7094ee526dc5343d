// Package models defines the core data structures for Baruc.
//
// It includes the intent and conversation types shared by the classifier, the
// dialogue state machine and the dispatcher, plus transport-facing records.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period bounds for chart requests, in weeks.
const (
	MinPeriod = 1
	MaxPeriod = 4
	// DefaultPeriod is used when a chart request carries no period at all.
	DefaultPeriod = 4
)

// MaxContextMessages is the sliding window size of a conversation history.
const MaxContextMessages = 10

var (
	ErrUnknownIntent     = errors.New("unknown intent kind")
	ErrUnknownVariable   = errors.New("unknown chart variable")
	ErrUnknownReportType = errors.New("unknown report type")
	ErrUnknownField      = errors.New("unknown missing field")
	ErrInvalidPeriod     = errors.New("invalid period")
)

// IntentKind is the closed set of things a user can ask Baruc for.
// The string values are the Spanish labels the classifier emits.
type IntentKind string

const (
	IntentCharts        IntentKind = "graficas"
	IntentMultivertical IntentKind = "mltv"
	IntentZones         IntentKind = "op_zones"
	IntentGreeting      IntentKind = "saludo"
	IntentUnknown       IntentKind = "desconocido"
)

// Valid reports whether k is one of the known intent kinds.
func (k IntentKind) Valid() bool {
	switch k {
	case IntentCharts, IntentMultivertical, IntentZones, IntentGreeting, IntentUnknown:
		return true
	}
	return false
}

// IsWorkflow reports whether the intent kind maps to an executable workflow.
func (k IntentKind) IsWorkflow() bool {
	return k == IntentCharts || k == IntentMultivertical || k == IntentZones
}

// ParseIntentKind parses a classifier label, accepting a few English aliases.
func ParseIntentKind(s string) (IntentKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "graficas", "gráficas", "charts":
		return IntentCharts, nil
	case "mltv", "multivertical", "multivertical_report":
		return IntentMultivertical, nil
	case "op_zones", "opzones", "zones", "zone_report":
		return IntentZones, nil
	case "saludo", "greeting":
		return IntentGreeting, nil
	case "desconocido", "unknown", "":
		return IntentUnknown, nil
	}
	return IntentUnknown, fmt.Errorf("%w: %q", ErrUnknownIntent, s)
}

// ChartVariable selects which metric a chart request plots.
type ChartVariable string

const (
	VariableOrders   ChartVariable = "ordenes"
	VariableExpenses ChartVariable = "gasto"
)

func (v ChartVariable) Valid() bool {
	return v == VariableOrders || v == VariableExpenses
}

// Label returns the user-facing name of the variable.
func (v ChartVariable) Label() string {
	if v == VariableExpenses {
		return "gasto"
	}
	return "órdenes"
}

// ParseChartVariable parses a chart variable label.
func ParseChartVariable(s string) (ChartVariable, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ordenes", "órdenes", "orders":
		return VariableOrders, nil
	case "gasto", "gastos", "expenses":
		return VariableExpenses, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariable, s)
}

// ReportType is the cadence of a multivertical or zone report.
type ReportType string

const (
	ReportWeekly  ReportType = "semanal"
	ReportMonthly ReportType = "mensual"
)

func (r ReportType) Valid() bool {
	return r == ReportWeekly || r == ReportMonthly
}

// ParseReportType parses a report type label.
func ParseReportType(s string) (ReportType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "semanal", "weekly":
		return ReportWeekly, nil
	case "mensual", "monthly":
		return ReportMonthly, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownReportType, s)
}

// Field names a parameter the classifier can ask for.
type Field string

const (
	FieldNone       Field = ""
	FieldVariable   Field = "variable"
	FieldPeriod     Field = "periodo"
	FieldReportType Field = "tipo_reporte"
)

// ParseField parses a missing-field label. Empty input yields FieldNone.
func ParseField(s string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return FieldNone, nil
	case "variable":
		return FieldVariable, nil
	case "periodo", "período", "period":
		return FieldPeriod, nil
	case "tipo_reporte", "tiporeporte", "report_type":
		return FieldReportType, nil
	}
	return FieldNone, fmt.Errorf("%w: %q", ErrUnknownField, s)
}

// ClampPeriod forces a week count into [MinPeriod, MaxPeriod].
func ClampPeriod(p int) int {
	if p < MinPeriod {
		return MinPeriod
	}
	if p > MaxPeriod {
		return MaxPeriod
	}
	return p
}

// ParseWeeks reads the leading week count of "3", "3 semanas" or " 2 "
// without clamping. Out-of-range integers saturate to the int limits.
func ParseWeeks(s string) (int, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPeriod)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return n, nil
}

// ParsePeriod is ParseWeeks clamped to [MinPeriod, MaxPeriod].
func ParsePeriod(s string) (int, error) {
	n, err := ParseWeeks(s)
	if err != nil {
		return 0, err
	}
	return ClampPeriod(n), nil
}

// IntentRecord is the structured reading of what a user asked for.
// Period is nil until resolved and never holds a value outside [1,4].
type IntentRecord struct {
	Kind       IntentKind    `json:"intencion"`
	Variable   ChartVariable `json:"variable,omitempty"`
	Period     *int          `json:"periodo,omitempty"`
	ReportType ReportType    `json:"tipo_reporte,omitempty"`
	// Requested is the week count asked for before clamping.
	Requested int `json:"periodo_solicitado,omitempty"`
}

// WithPeriod returns a copy of the record with the clamped period set and p
// kept as the requested value.
func (r IntentRecord) WithPeriod(p int) IntentRecord {
	c := ClampPeriod(p)
	r.Period = &c
	r.Requested = p
	return r
}

// PeriodOr returns the period, or def when none is set.
func (r IntentRecord) PeriodOr(def int) int {
	if r.Period == nil {
		return def
	}
	return *r.Period
}

// Clone returns a deep copy of the record.
func (r *IntentRecord) Clone() *IntentRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Period != nil {
		p := *r.Period
		c.Period = &p
	}
	return &c
}

// Sender identifies who authored a conversation entry.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// ConversationMessage is a single entry in a conversation history.
type ConversationMessage struct {
	Timestamp time.Time     `json:"timestamp"`
	Sender    Sender        `json:"sender"`
	Content   string        `json:"content"`
	Intent    *IntentRecord `json:"intent,omitempty"`
}

// ChartDescriptor describes one generated chart image.
type ChartDescriptor struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Country string `json:"country"`
	Type    string `json:"type"`
	Period  int    `json:"period"`
}
