package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/Baruc/internal/genai"
	"github.com/BTreeMap/Baruc/internal/sheets"
)

// ErrNoZoneData is returned when neither analysed week has zone rows.
var ErrNoZoneData = errors.New("no zone data for the analysed weeks")

// MLTVService writes the weekly multivertical report.
type MLTVService struct {
	gen genai.Generator
	src MLTVSource
	now func() time.Time
}

// NewMLTVService creates an MLTVService.
func NewMLTVService(gen genai.Generator, src MLTVSource) *MLTVService {
	return &MLTVService{gen: gen, src: src, now: time.Now}
}

// GenerateAnalysis reads the MLTV sheets and asks the oracle for the report.
func (s *MLTVService) GenerateAnalysis(ctx context.Context) (string, error) {
	data, err := s.src.GetMLTVDataForAnalysis(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load mltv data: %w", err)
	}
	week := sheets.ClosedWeek(s.now())
	pd := newPromptData(week, data)
	prompt, err := render(mltvTemplate, pd)
	if err != nil {
		return "", err
	}
	slog.Debug("MLTVService.GenerateAnalysis: prompt built", "data_chars", len(data), "prompt_chars", len(prompt))

	analysis, err := s.gen.Generate(ctx, prompt, genai.GenerateOptions{Temperature: MLTVTemperature})
	if err != nil {
		return "", fmt.Errorf("failed to generate mltv analysis: %w", err)
	}
	slog.Info("MLTVService.GenerateAnalysis: report generated", "chars", len(analysis))
	return fmt.Sprintf("📊 **REPORTE MLTV**\n**Semana analizada: %s al %s**\n\n%s",
		pd.LastStart, pd.LastEnd, strings.TrimSpace(analysis)), nil
}

// OpZonesService writes the weekly OP ZONES report from pre-computed figures.
type OpZonesService struct {
	gen genai.Generator
	src ZonesSource
	now func() time.Time
}

// NewOpZonesService creates an OpZonesService.
func NewOpZonesService(gen genai.Generator, src ZonesSource) *OpZonesService {
	return &OpZonesService{gen: gen, src: src, now: time.Now}
}

// GenerateAnalysis aggregates the zone sheets and has the oracle format them.
func (s *OpZonesService) GenerateAnalysis(ctx context.Context) (string, error) {
	analysis, err := s.src.GetOpZonesAnalysis(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load zone data: %w", err)
	}
	if len(analysis) == 0 {
		return "", ErrNoZoneData
	}
	data, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode zone data: %w", err)
	}
	prompt, err := render(zonesTemplate, newPromptData(sheets.ClosedWeek(s.now()), string(data)))
	if err != nil {
		return "", err
	}

	report, err := s.gen.Generate(ctx, prompt, genai.GenerateOptions{Temperature: ZonesTemperature})
	if err != nil {
		return "", fmt.Errorf("failed to generate zones report: %w", err)
	}
	slog.Info("OpZonesService.GenerateAnalysis: report generated", "countries", len(analysis), "chars", len(report))
	return strings.TrimSpace(report), nil
}
