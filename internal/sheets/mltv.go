package sheets

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	mltvMaxRows    = 1000
	mltvMaxColumns = 8
	mltvMaxChars   = 8000
	mltvTruncated  = "\n\n[DATOS TRUNCADOS]"
)

var datePattern = regexp.MustCompile(`\d{1,2}/\d{1,2}`)

type namedSheet struct {
	Name string
	Rows [][]string
}

// formatMLTV renders the MLTV sheets as the text block handed to the oracle.
func formatMLTV(sheets []namedSheet, week Week) string {
	var b strings.Builder
	b.WriteString("DATOS DE MULTIVERTICALIDAD (MLTV) PARA ANÁLISIS:\n\n")
	fmt.Fprintf(&b, "BUSCAR: Datos de semana %s\n\n", week.Start.Format("2006-01-02"))

	for _, s := range sheets {
		fmt.Fprintf(&b, "=== HOJA: %s ===\n", s.Name)
		headers := firstN(s.Rows[0], mltvMaxColumns)
		fmt.Fprintf(&b, "COLUMNAS: %s\n", strings.Join(headers, " | "))
		b.WriteString(strings.Repeat("-", 40))
		b.WriteString("\n")

		data := s.Rows[1:]
		limit := len(data)
		if limit > mltvMaxRows {
			limit = mltvMaxRows
		}
		for _, row := range data[:limit] {
			cells := firstN(row, mltvMaxColumns)
			if !hasData(cells) {
				continue
			}
			line := strings.Join(cells, " | ")
			if rowHasDate(cells) {
				line = "[FECHA] " + line
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		if len(data) > mltvMaxRows {
			fmt.Fprintf(&b, "[Procesadas %d de %d filas]\n", mltvMaxRows, len(data))
		}
		b.WriteString("\n")
	}

	text := b.String()
	if len(text) > mltvMaxChars {
		text = truncateUTF8(text, mltvMaxChars) + mltvTruncated
	}
	return text
}

func firstN(row []string, n int) []string {
	if len(row) > n {
		row = row[:n]
	}
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func hasData(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return true
		}
	}
	return false
}

func rowHasDate(cells []string) bool {
	for _, c := range cells {
		if datePattern.MatchString(c) {
			return true
		}
	}
	return false
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
