package sheets

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu     sync.Mutex
	values map[string][][]string
	titles []string
	errs   map[string]error
	reads  []string
}

func (f *fakeSource) Values(ctx context.Context, rng string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, rng)
	if err := f.errs[rng]; err != nil {
		return nil, err
	}
	return f.values[rng], nil
}

func (f *fakeSource) SheetTitles(ctx context.Context) ([]string, error) {
	if err := f.errs["titles"]; err != nil {
		return nil, err
	}
	return f.titles, nil
}

// wednesday is 2025-03-19; the closed week is 2025-03-10..2025-03-16.
var wednesday = time.Date(2025, 3, 19, 15, 0, 0, 0, time.UTC)

func testProvider(src source) *Provider {
	p := newProvider(src)
	p.now = func() time.Time { return wednesday }
	return p
}

func TestNewProvider_RequiresConfig(t *testing.T) {
	_, err := NewProvider(context.Background(), WithSpreadsheetID("abc"))
	assert.ErrorIs(t, err, ErrMissingConfig)

	_, err = NewProvider(context.Background(), WithAPIKey("key"))
	assert.ErrorIs(t, err, ErrMissingConfig)
}

func TestSelectColumns(t *testing.T) {
	headers := []string{"COUNTRY", "SQUAD", "ORDER_HOUR", "ORDERS_Y", "ORDERS_TODAY", "ORDERS_W1", "ORDERS_W2", "ORDERS_W3", "NOTES"}

	tests := []struct {
		name    string
		period  int
		ordersY bool
		want    []int
	}{
		{"one week with yesterday", 1, true, []int{0, 1, 2, 3, 4, 5}},
		{"two weeks", 2, true, []int{0, 1, 2, 3, 4, 5, 6}},
		{"without yesterday", 3, false, []int{0, 1, 2, 4, 5, 6, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectColumns(headers, tt.period, tt.ordersY)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectColumns_FindsRequiredByName(t *testing.T) {
	headers := []string{"WEEK_1", "COUNTRY_CODE", "SQUAD", "ORDER_HOUR"}
	got, err := SelectColumns(headers, 1, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 0}, got)
}

func TestSelectColumns_Errors(t *testing.T) {
	_, err := SelectColumns([]string{"COUNTRY", "ORDER_HOUR", "W1"}, 1, false)
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = SelectColumns([]string{"COUNTRY", "SQUAD", "ORDER_HOUR", "NOTES"}, 4, true)
	assert.ErrorIs(t, err, ErrNotEnoughColumns)
}

func TestSelectColumns_NoDuplicates(t *testing.T) {
	// "ORDERS_W1" matches both the W1 and ORDERS_W1 patterns.
	headers := []string{"COUNTRY", "SQUAD", "ORDER_HOUR", "ORDERS_W1"}
	got, err := SelectColumns(headers, 1, false)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, got)
}

func TestGetDataAsCSV(t *testing.T) {
	src := &fakeSource{values: map[string][][]string{
		chartRange: {
			{"COUNTRY", "SQUAD", "ORDER_HOUR", "ORDERS_Y", "ORDERS_W1", "NOTES"},
			{"MX", "Norte", "10", "5", "12"},
			{"CO", "Sur, Centro", "11", "7", "9", "x"},
		},
	}}
	out, err := testProvider(src).GetDataAsCSV(context.Background(), 1, true)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"COUNTRY", "SQUAD", "ORDER_HOUR", "ORDERS_Y", "ORDERS_W1"},
		{"MX", "Norte", "10", "5", "12"},
		{"CO", "Sur, Centro", "11", "7", "9"},
	}, records)
}

func TestGetDataAsCSV_Errors(t *testing.T) {
	empty := &fakeSource{values: map[string][][]string{}}
	_, err := testProvider(empty).GetDataAsCSV(context.Background(), 1, true)
	assert.ErrorIs(t, err, ErrNoData)

	boom := errors.New("quota exceeded")
	failing := &fakeSource{errs: map[string]error{chartRange: boom}}
	_, err = testProvider(failing).GetDataAsCSV(context.Background(), 1, true)
	assert.ErrorIs(t, err, boom)
}

func TestClosedWeek(t *testing.T) {
	tests := []struct {
		name  string
		now   time.Time
		start string
	}{
		{"wednesday", wednesday, "2025-03-10"},
		{"monday", time.Date(2025, 3, 17, 8, 0, 0, 0, time.UTC), "2025-03-10"},
		{"sunday", time.Date(2025, 3, 23, 23, 0, 0, 0, time.UTC), "2025-03-10"},
		{"next monday", time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC), "2025-03-17"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ClosedWeek(tt.now)
			assert.Equal(t, tt.start, w.Start.Format("2006-01-02"))
			assert.Equal(t, time.Sunday, w.End.Weekday())
			assert.Equal(t, 6*24*time.Hour, w.End.Sub(w.Start))
		})
	}
}

func TestWeekContainsAndPrevious(t *testing.T) {
	w := ClosedWeek(wednesday)
	assert.True(t, w.Contains(time.Date(2025, 3, 16, 23, 59, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2025-03-03", w.Previous().Start.Format("2006-01-02"))
}

func zoneRow(week, country, city, class, bases, orders string) []string {
	return []string{week, "TYPE", country, city, "Zona", class, "", bases, orders}
}

func TestAggregateZones(t *testing.T) {
	header := []string{"WEEK", "TYPE", "COUNTRY", "CITY", "ZONE", "CLASS", "X", "ACTIVE_USERS", "TOTAL_ORDERS"}
	orders := [][]string{
		header,
		zoneRow("2025-03-10", "MX", "CDMX", "0", "", "1,000"),
		zoneRow("2025-03-10", "MX", "GDL", "0", "", "300"),
		zoneRow("3/12/2025", "MX", "MTY", "0", "", "500"),
		zoneRow("2025-03-10", "MX", "PUE", "0", "", "100"),
		zoneRow("2025-03-03", "MX", "CDMX", "0", "", "1,500"),
		zoneRow("2025-02-24", "MX", "CDMX", "0", "", "9999"),
		zoneRow("not a date", "MX", "CDMX", "0", "", "9999"),
		zoneRow("2025-03-10", "", "CDMX", "0", "", "9999"),
		{"2025-03-10", "TYPE", "MX"},
	}
	bases := [][]string{
		header,
		zoneRow("2025-03-10", "MX", "CDMX", "0", "110", ""),
		zoneRow("2025-03-03", "MX", "CDMX", "0", "100", ""),
		zoneRow("2025-03-10", "CO", "BOG", "2", "40", ""),
	}

	got := AggregateZones(orders, bases, ClosedWeek(wednesday))
	require.Len(t, got, 2)

	mx := got["MX"]["zone0"]
	require.NotNil(t, mx)
	assert.Equal(t, Metric{Current: 1900, Prev: 1500, WoW: (1900.0 - 1500.0) / 1500.0 * 100}, mx.Orders)
	assert.InDelta(t, 10.0, mx.Bases.WoW, 1e-9)
	assert.Equal(t, []CityVolume{{"CDMX", 1000}, {"MTY", 500}, {"GDL", 300}}, mx.TopCities)

	co := got["CO"]["zone2"]
	require.NotNil(t, co)
	assert.Equal(t, Metric{Current: 40}, co.Bases)
	assert.Zero(t, co.Orders.WoW)
	assert.Empty(t, co.TopCities)
}

func TestGetOpZonesAnalysis(t *testing.T) {
	src := &fakeSource{values: map[string][][]string{
		zonesOrdersRange: {{"h"}, zoneRow("2025-03-11", "AR", "CABA", "2", "", "20")},
		zonesBasesRange:  {{"h"}, zoneRow("2025-03-04", "AR", "CABA", "2", "8", "")},
	}}
	got, err := testProvider(src).GetOpZonesAnalysis(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20.0, got["AR"]["zone2"].Orders.Current)
	assert.Equal(t, 8.0, got["AR"]["zone2"].Bases.Prev)
	assert.ElementsMatch(t, []string{zonesOrdersRange, zonesBasesRange}, src.reads)

	boom := errors.New("boom")
	failing := &fakeSource{errs: map[string]error{zonesBasesRange: boom}}
	_, err = testProvider(failing).GetOpZonesAnalysis(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestGetMLTVDataForAnalysis(t *testing.T) {
	src := &fakeSource{
		titles: []string{"Resumen", "MLTV Semanal", "mltv mensual"},
		values: map[string][][]string{
			"'MLTV Semanal'!A:Z": {
				{"FECHA", "PAIS", "USUARIOS"},
				{"10/03", "MX", "120"},
				{"", "", ""},
				{"total", "MX", "500"},
			},
		},
		errs: map[string]error{"'mltv mensual'!A:Z": errors.New("forbidden")},
	}
	out, err := testProvider(src).GetMLTVDataForAnalysis(context.Background())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "DATOS DE MULTIVERTICALIDAD (MLTV) PARA ANÁLISIS:\n\nBUSCAR: Datos de semana 2025-03-10\n\n"))
	assert.Contains(t, out, "=== HOJA: MLTV Semanal ===\nCOLUMNAS: FECHA | PAIS | USUARIOS\n"+strings.Repeat("-", 40)+"\n")
	assert.Contains(t, out, "[FECHA] 10/03 | MX | 120\n")
	assert.Contains(t, out, "\ntotal | MX | 500\n")
	assert.NotContains(t, out, "Resumen")
	assert.NotContains(t, out, "mltv mensual")
}

func TestGetMLTVDataForAnalysis_NoSheets(t *testing.T) {
	src := &fakeSource{titles: []string{"Resumen"}}
	_, err := testProvider(src).GetMLTVDataForAnalysis(context.Background())
	assert.ErrorIs(t, err, ErrNoMLTVSheets)
}

func TestFormatMLTV_Limits(t *testing.T) {
	rows := [][]string{{"A", "B", "C", "D", "E", "F", "G", "H", "I"}}
	for i := 0; i < mltvMaxRows+5; i++ {
		rows = append(rows, []string{"valor largo de prueba", "1", "2", "3", "4", "5", "6", "7", "8"})
	}
	out := formatMLTV([]namedSheet{{Name: "MLTV", Rows: rows}}, ClosedWeek(wednesday))

	assert.Contains(t, out, "COLUMNAS: A | B | C | D | E | F | G | H\n")
	assert.NotContains(t, out, " | I")
	assert.True(t, strings.HasSuffix(out, mltvTruncated))
	assert.LessOrEqual(t, len(out), mltvMaxChars+len(mltvTruncated))
}

func TestFormatMLTV_RowCountNote(t *testing.T) {
	rows := [][]string{{"A"}}
	for i := 0; i < mltvMaxRows+2; i++ {
		rows = append(rows, []string{"x"})
	}
	out := formatMLTV([]namedSheet{{Name: "MLTV", Rows: rows}}, ClosedWeek(wednesday))
	assert.Contains(t, out, "[Procesadas 1000 de 1002 filas]")
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "añ", truncateUTF8("añb", 3))
	assert.Equal(t, "a", truncateUTF8("añb", 2))
	assert.Equal(t, "abc", truncateUTF8("abc", 10))
}

func TestStringify(t *testing.T) {
	got := stringify([][]interface{}{{"MX", 12.0, nil}, {true}})
	assert.Equal(t, [][]string{{"MX", "12", ""}, {"true"}}, got)
}
