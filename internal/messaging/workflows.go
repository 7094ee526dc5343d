package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/Baruc/internal/models"
)

// ChartGenerator produces chart images for a chart request.
type ChartGenerator interface {
	GenerateCharts(ctx context.Context, variable models.ChartVariable, period int) ([]models.ChartDescriptor, error)
	FetchMedia(ctx context.Context, charts []models.ChartDescriptor) ([]models.Media, error)
}

// AnalysisGenerator produces a text report.
type AnalysisGenerator interface {
	GenerateAnalysis(ctx context.Context) (string, error)
}

const (
	msgChartsFailed      = "❌ Hubo un error generando las gráficas. Por favor intenta de nuevo."
	msgChartsEmpty       = "❌ No se pudieron generar las gráficas. Intenta de nuevo."
	msgChartsUndelivered = "❌ No se pudieron enviar las gráficas debido a problemas de conexión. Por favor intenta de nuevo."
	msgMLTVSendFailed    = "Lo siento, hubo un error al enviar el análisis MLTV 😕"
	msgMLTVFailed        = "Lo siento, hubo un error al analizar los datos de multiverticalidad 😕"
	msgZonesSendFailed   = "Lo siento, hubo un error al enviar el reporte de OP ZONES 😕"
	msgZonesFailed       = "Lo siento, hubo un error al generar el reporte de OP ZONES 😕"
	msgUnavailable       = "Este reporte no está disponible en este momento 😕"
)

var periodPattern = regexp.MustCompile(`(\d+)\s*semana`)

// requestedPeriod picks the week count a chart run was asked for: the intent's
// unclamped request, else one mentioned in the acknowledgment, else the default.
func requestedPeriod(rec models.IntentRecord, reply string) int {
	if rec.Period != nil {
		if rec.Requested != 0 {
			return rec.Requested
		}
		return *rec.Period
	}
	if m := periodPattern.FindStringSubmatch(strings.ToLower(reply)); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return models.DefaultPeriod
}

func weeks(n int) string {
	if n == 1 {
		return "1 semana"
	}
	return fmt.Sprintf("%d semanas", n)
}

// runCharts generates and delivers the charts for rec, whose period is already
// clamped. requested is the period before clamping.
func (d *Dispatcher) runCharts(ctx context.Context, chatID string, rec models.IntentRecord, requested int) {
	if d.charts == nil {
		slog.Error("Dispatcher.runCharts: no chart generator configured", "chat_id", chatID)
		d.sender.SendText(ctx, chatID, msgUnavailable, 1)
		return
	}
	period := rec.PeriodOr(models.DefaultPeriod)
	label := rec.Variable.Label()

	if period != requested {
		d.sender.SendText(ctx, chatID, fmt.Sprintf(
			"📊 Período ajustado a %s (máximo disponible). Las gráficas incluirán datos acumulativos + órdenes de ayer.", weeks(period)), 1)
	} else {
		d.sender.SendText(ctx, chatID, fmt.Sprintf(
			"📊 Generando gráficas de %s para %s (acumulativo + órdenes de ayer)...", label, weeks(period)), 1)
	}

	charts, err := d.charts.GenerateCharts(ctx, rec.Variable, period)
	if err != nil {
		slog.Error("Dispatcher.runCharts: generation failed", "error", err, "chat_id", chatID)
		d.sender.SendText(ctx, chatID, msgChartsFailed, 1)
		return
	}
	if len(charts) == 0 {
		d.sender.SendText(ctx, chatID, msgChartsEmpty, 1)
		return
	}
	slog.Info("Dispatcher.runCharts: charts generated", "chat_id", chatID, "count", len(charts), "period", period)

	d.sender.SendText(ctx, chatID, fmt.Sprintf(
		"✅ Gráficas generadas! Enviando %d imágenes (período acumulativo: %s + órdenes de ayer)...", len(charts), weeks(period)), 1)

	media, err := d.charts.FetchMedia(ctx, charts)
	if err != nil {
		slog.Error("Dispatcher.runCharts: media download failed", "error", err, "chat_id", chatID)
		d.sender.SendText(ctx, chatID, msgChartsFailed, 1)
		return
	}

	delivered := 0
	for i, m := range media {
		if d.sender.SendMedia(ctx, chatID, m, 3) {
			delivered++
			slog.Debug("Dispatcher.runCharts: image sent", "chat_id", chatID, "index", i+1, "total", len(media))
		} else {
			slog.Warn("Dispatcher.runCharts: image not sent", "chat_id", chatID, "index", i+1, "total", len(media))
		}
		if i < len(media)-1 && !sleep(ctx, d.mediaGap) {
			return
		}
	}

	switch {
	case delivered == 0:
		d.sender.SendText(ctx, chatID, msgChartsUndelivered, 1)
	case delivered == len(media):
		d.sender.SendText(ctx, chatID, fmt.Sprintf(
			"📊 ¡Proceso completado! Se enviaron todas las %d gráficas de %s (%s acumulativo + ORDERS_Y) ✅",
			delivered, label, weeks(period)), 1)
	default:
		d.sender.SendText(ctx, chatID, fmt.Sprintf(
			"📊 ¡Proceso completado! Se enviaron %d/%d gráficas; las demás no se pudieron entregar.",
			delivered, len(media)), 1)
	}
}

// runAnalysis generates a text report and sends it.
func (d *Dispatcher) runAnalysis(ctx context.Context, chatID string, gen AnalysisGenerator, sendFailed, genFailed string) {
	if gen == nil {
		slog.Error("Dispatcher.runAnalysis: no generator configured", "chat_id", chatID)
		d.sender.SendText(ctx, chatID, msgUnavailable, 1)
		return
	}
	report, err := gen.GenerateAnalysis(ctx)
	if err != nil {
		slog.Error("Dispatcher.runAnalysis: generation failed", "error", err, "chat_id", chatID)
		d.sender.SendText(ctx, chatID, genFailed, 1)
		return
	}
	if !d.sender.SendText(ctx, chatID, report, ReplyRetries) {
		d.sender.SendText(ctx, chatID, sendFailed, 1)
		return
	}
	slog.Info("Dispatcher.runAnalysis: report delivered", "chat_id", chatID)
}
