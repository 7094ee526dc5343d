package sheets

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
)

// MinColumns is the smallest usable chart CSV: three keys plus one value.
const MinColumns = 4

var requiredColumns = []string{"COUNTRY", "SQUAD", "ORDER_HOUR"}

var (
	ErrMissingColumn    = errors.New("required column not found")
	ErrNotEnoughColumns = errors.New("not enough columns for charts")
)

var dayPatterns = []string{
	"TODAY", "HOY", "ORDERS_TODAY", "GASTOS_TODAY",
	"YESTERDAY", "AYER", "ORDERS_YESTERDAY", "GASTOS_YESTERDAY",
}

func weekPatterns(n int) []string {
	return []string{
		fmt.Sprintf("WEEK_%d", n),
		fmt.Sprintf("W_%d", n),
		fmt.Sprintf("W%d", n),
		fmt.Sprintf("SEMANA_%d", n),
		fmt.Sprintf("S_%d", n),
		fmt.Sprintf("S%d", n),
		fmt.Sprintf("ORDERS_W%d", n),
		fmt.Sprintf("GASTOS_W%d", n),
		fmt.Sprintf("ORDERS_WEEK_%d", n),
		fmt.Sprintf("GASTOS_WEEK_%d", n),
		fmt.Sprintf("ORDERS_LW%d", n),
		fmt.Sprintf("GASTOS_LW%d", n),
	}
}

// SelectColumns returns the header indexes a chart CSV keeps, in output order.
// COUNTRY, SQUAD and ORDER_HOUR come first, then ORDERS_Y when requested, then
// the cumulative day and week columns up to period weeks.
func SelectColumns(headers []string, period int, includeOrdersY bool) ([]int, error) {
	upper := make([]string, len(headers))
	for i, h := range headers {
		upper[i] = strings.ToUpper(strings.TrimSpace(h))
	}

	var cols []int
	taken := make(map[int]bool)
	add := func(i int) {
		if i >= 0 && !taken[i] {
			taken[i] = true
			cols = append(cols, i)
		}
	}

	for i, name := range requiredColumns {
		idx := -1
		if i < len(upper) && upper[i] == name {
			idx = i
		} else {
			idx = findContaining(upper, name, taken)
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
		add(idx)
	}

	if includeOrdersY {
		add(findContaining(upper, "ORDERS_Y", taken))
	}

	patterns := append([]string(nil), dayPatterns...)
	for w := 1; w <= period; w++ {
		patterns = append(patterns, weekPatterns(w)...)
	}
	for _, p := range patterns {
		add(findContaining(upper, p, taken))
	}

	if len(cols) < MinColumns {
		return nil, fmt.Errorf("%w: got %d, need %d", ErrNotEnoughColumns, len(cols), MinColumns)
	}
	return cols, nil
}

func findContaining(upper []string, pattern string, taken map[int]bool) int {
	for i, h := range upper {
		if !taken[i] && strings.Contains(h, pattern) {
			return i
		}
	}
	return -1
}

// toCSV projects rows onto cols. Short rows are padded with empty cells.
func toCSV(rows [][]string, cols []int) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	record := make([]string, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			if c < len(row) {
				record[i] = row[c]
			} else {
				record[i] = ""
			}
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.String(), nil
}
