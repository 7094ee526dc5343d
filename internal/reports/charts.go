package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/Baruc/internal/models"
	"github.com/BTreeMap/Baruc/internal/objectstore"
)

// Chart client defaults.
const (
	DefaultChartTimeout  = 2 * time.Minute
	DefaultFetchParallel = 4
	// MaxImageBytes caps a single downloaded chart image.
	MaxImageBytes = 16 << 20
)

var (
	ErrNoEndpoint   = errors.New("chart service endpoint not configured")
	ErrChartService = errors.New("chart service returned an error")
	ErrNoImages     = errors.New("chart service returned no images")
)

var imageURLPattern = regexp.MustCompile(`(?i)https?://[^\s"',\]]+\.(?:png|jpg|jpeg|gif|webp)`)

// ChartOpts configures a ChartService.
type ChartOpts struct {
	Endpoint      string
	HTTPClient    *http.Client
	FetchParallel int
}

// ChartOption configures a ChartService.
type ChartOption func(*ChartOpts)

// WithEndpoint sets the chart microservice URL.
func WithEndpoint(url string) ChartOption {
	return func(o *ChartOpts) {
		o.Endpoint = url
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ChartOption {
	return func(o *ChartOpts) {
		o.HTTPClient = c
	}
}

// WithFetchParallel bounds concurrent image downloads.
func WithFetchParallel(n int) ChartOption {
	return func(o *ChartOpts) {
		o.FetchParallel = n
	}
}

// ChartService builds chart CSVs, hosts them and asks the chart microservice
// to render them.
type ChartService struct {
	data     CSVSource
	store    objectstore.Uploader
	endpoint string
	client   *http.Client
	parallel int
	now      func() time.Time
}

// NewChartService creates a ChartService.
func NewChartService(data CSVSource, store objectstore.Uploader, opts ...ChartOption) (*ChartService, error) {
	cfg := ChartOpts{FetchParallel: DefaultFetchParallel}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultChartTimeout}
	}
	if cfg.FetchParallel <= 0 {
		cfg.FetchParallel = DefaultFetchParallel
	}
	return &ChartService{
		data:     data,
		store:    store,
		endpoint: cfg.Endpoint,
		client:   cfg.HTTPClient,
		parallel: cfg.FetchParallel,
		now:      time.Now,
	}, nil
}

type chartRequest struct {
	CSVURL         string `json:"csv_url"`
	Tipo           string `json:"tipo"`
	Periodo        int    `json:"periodo"`
	Cumulative     bool   `json:"cumulative"`
	IncludeOrdersY bool   `json:"include_orders_y"`
	Descripcion    string `json:"descripcion"`
}

type chartResponse struct {
	ImageURLs []string `json:"image_urls"`
}

// GenerateCharts renders the cumulative charts of variable over period weeks.
// The period is clamped to the supported range first.
func (s *ChartService) GenerateCharts(ctx context.Context, variable models.ChartVariable, period int) ([]models.ChartDescriptor, error) {
	period = models.ClampPeriod(period)
	tipo := string(variable)

	csvData, err := s.data.GetDataAsCSV(ctx, period, true)
	if err != nil {
		return nil, fmt.Errorf("failed to build chart csv: %w", err)
	}
	name := fmt.Sprintf("data_%s_%dw_cumulative_%d.csv", tipo, period, s.now().UnixMilli())
	csvURL, err := s.store.Upload(ctx, name, []byte(csvData))
	if err != nil {
		return nil, fmt.Errorf("failed to host chart csv: %w", err)
	}

	plural := ""
	if period > 1 {
		plural = "s"
	}
	payload, err := json.Marshal(chartRequest{
		CSVURL:         csvURL,
		Tipo:           tipo,
		Periodo:        period,
		Cumulative:     true,
		IncludeOrdersY: true,
		Descripcion:    fmt.Sprintf("Gráficas %s - %d semana%s (acumulativo + ORDERS_Y)", tipo, period, plural),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build chart request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Info("ChartService.GenerateCharts: requesting charts", "tipo", tipo, "period", period, "csv_url", csvURL)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chart request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chart response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("ChartService.GenerateCharts: service error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("%w: %d - %s", ErrChartService, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	urls := imageURLs(body)
	if len(urls) == 0 {
		return nil, ErrNoImages
	}
	slog.Info("ChartService.GenerateCharts: charts rendered", "count", len(urls))

	charts := make([]models.ChartDescriptor, len(urls))
	for i, u := range urls {
		charts[i] = models.ChartDescriptor{
			URL:     u,
			Title:   fmt.Sprintf("%s - Semana %d (Acumulativo)", tipo, period),
			Country: fmt.Sprintf("País %d", i+1),
			Type:    tipo,
			Period:  period,
		}
	}
	return charts, nil
}

// imageURLs prefers the image_urls field and falls back to scanning the raw
// body for image links.
func imageURLs(body []byte) []string {
	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.ImageURLs) > 0 {
		return parsed.ImageURLs
	}
	return imageURLPattern.FindAllString(string(body), -1)
}

// FetchMedia downloads chart images concurrently. Images that fail to download
// are skipped; the rest keep their order.
func (s *ChartService) FetchMedia(ctx context.Context, charts []models.ChartDescriptor) ([]models.Media, error) {
	results := make([]*models.Media, len(charts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for i, c := range charts {
		g.Go(func() error {
			m, err := s.fetch(gctx, c)
			if err != nil {
				slog.Warn("ChartService.FetchMedia: image skipped", "error", err, "index", i+1, "url", c.URL)
				return nil
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	media := make([]models.Media, 0, len(results))
	for _, m := range results {
		if m != nil {
			media = append(media, *m)
		}
	}
	slog.Info("ChartService.FetchMedia: images downloaded", "ok", len(media), "total", len(charts))
	return media, nil
}

func (s *ChartService) fetch(ctx context.Context, c models.ChartDescriptor) (*models.Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	return &models.Media{
		URL:      c.URL,
		MimeType: mime,
		Filename: path.Base(req.URL.Path),
		Data:     data,
	}, nil
}
