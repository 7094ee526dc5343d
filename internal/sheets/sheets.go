// Package sheets reads Baruc's operational data from Google Sheets.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Ranges read from the spreadsheet.
const (
	chartRange       = "A:ZZ"
	mltvRangeFmt     = "'%s'!A:Z"
	zonesOrdersRange = "'OP ZONES ORDERS'!A1:Z16000"
	zonesBasesRange  = "'OP ZONES BASES'!A1:Z16000"
)

var (
	ErrNoData        = errors.New("no data found in sheet")
	ErrNoMLTVSheets  = errors.New("no MLTV sheets found")
	ErrMissingConfig = errors.New("spreadsheet id and api key must be provided")
)

// source reads raw cell values.
type source interface {
	Values(ctx context.Context, rng string) ([][]string, error)
	SheetTitles(ctx context.Context) ([]string, error)
}

// Opts holds configuration for the Google Sheets provider.
type Opts struct {
	SpreadsheetID string
	APIKey        string
	ClientOptions []option.ClientOption
}

// Option configures a Provider.
type Option func(*Opts)

// WithSpreadsheetID sets the spreadsheet to read.
func WithSpreadsheetID(id string) Option {
	return func(o *Opts) {
		o.SpreadsheetID = id
	}
}

// WithAPIKey sets the Google API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithClientOptions appends raw Google API client options (endpoint, HTTP client).
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *Opts) {
		o.ClientOptions = append(o.ClientOptions, opts...)
	}
}

// Provider exposes the spreadsheet as chart CSV, MLTV text and zone aggregates.
type Provider struct {
	src source
	now func() time.Time
}

// NewProvider connects to the Sheets API.
func NewProvider(ctx context.Context, opts ...Option) (*Provider, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SpreadsheetID == "" || cfg.APIKey == "" {
		return nil, ErrMissingConfig
	}
	clientOpts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, cfg.ClientOptions...)
	svc, err := gsheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	slog.Debug("sheets.NewProvider: service created", "spreadsheet_set", cfg.SpreadsheetID != "")
	return newProvider(&googleSource{svc: svc, spreadsheetID: cfg.SpreadsheetID}), nil
}

func newProvider(src source) *Provider {
	return &Provider{src: src, now: time.Now}
}

// GetDataAsCSV returns the chart input: the required columns, ORDERS_Y when
// asked for, and the cumulative period columns up to period weeks.
func (p *Provider) GetDataAsCSV(ctx context.Context, period int, includeOrdersY bool) (string, error) {
	rows, err := p.src.Values(ctx, chartRange)
	if err != nil {
		return "", fmt.Errorf("failed to read chart data: %w", err)
	}
	if len(rows) == 0 {
		return "", ErrNoData
	}
	cols, err := SelectColumns(rows[0], period, includeOrdersY)
	if err != nil {
		return "", err
	}
	out, err := toCSV(rows, cols)
	if err != nil {
		return "", err
	}
	slog.Info("Provider.GetDataAsCSV: csv built", "rows", len(rows)-1, "columns", len(cols), "period", period)
	return out, nil
}

// GetMLTVDataForAnalysis renders every MLTV sheet as compact text for the oracle.
func (p *Provider) GetMLTVDataForAnalysis(ctx context.Context) (string, error) {
	titles, err := p.src.SheetTitles(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list sheets: %w", err)
	}
	var named []namedSheet
	for _, title := range titles {
		if !strings.Contains(strings.ToUpper(title), "MLTV") {
			continue
		}
		rows, err := p.src.Values(ctx, fmt.Sprintf(mltvRangeFmt, title))
		if err != nil {
			slog.Error("Provider.GetMLTVDataForAnalysis: sheet read failed", "sheet", title, "error", err)
			continue
		}
		if len(rows) > 0 {
			named = append(named, namedSheet{Name: title, Rows: rows})
		}
	}
	if len(named) == 0 {
		return "", ErrNoMLTVSheets
	}
	text := formatMLTV(named, ClosedWeek(p.now()))
	slog.Info("Provider.GetMLTVDataForAnalysis: data prepared", "sheets", len(named), "chars", len(text))
	return text, nil
}

// GetOpZonesAnalysis reads the zone orders and bases sheets in parallel and
// aggregates them per country and zone class.
func (p *Provider) GetOpZonesAnalysis(ctx context.Context) (ZoneAnalysis, error) {
	var orders, bases [][]string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := p.src.Values(gctx, zonesOrdersRange)
		if err != nil {
			return fmt.Errorf("failed to read zone orders: %w", err)
		}
		orders = rows
		return nil
	})
	g.Go(func() error {
		rows, err := p.src.Values(gctx, zonesBasesRange)
		if err != nil {
			return fmt.Errorf("failed to read zone bases: %w", err)
		}
		bases = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	analysis := AggregateZones(orders, bases, ClosedWeek(p.now()))
	slog.Info("Provider.GetOpZonesAnalysis: aggregated", "countries", len(analysis))
	return analysis, nil
}

// googleSource reads through the Sheets v4 API.
type googleSource struct {
	svc           *gsheets.Service
	spreadsheetID string
}

func (g *googleSource) Values(ctx context.Context, rng string) ([][]string, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return stringify(resp.Values), nil
}

func (g *googleSource) SheetTitles(ctx context.Context) ([]string, error) {
	meta, err := g.svc.Spreadsheets.Get(g.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(meta.Sheets))
	for _, s := range meta.Sheets {
		if s.Properties != nil && s.Properties.Title != "" {
			titles = append(titles, s.Properties.Title)
		}
	}
	return titles, nil
}

func stringify(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		out[i] = make([]string, len(row))
		for j, cell := range row {
			if cell != nil {
				out[i][j] = fmt.Sprint(cell)
			}
		}
	}
	return out
}
