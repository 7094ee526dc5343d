package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/Baruc/internal/conversation"
	"github.com/BTreeMap/Baruc/internal/flow"
	"github.com/BTreeMap/Baruc/internal/genai"
	"github.com/BTreeMap/Baruc/internal/intent"
	"github.com/BTreeMap/Baruc/internal/models"
	"github.com/BTreeMap/Baruc/internal/store"
	"github.com/BTreeMap/Baruc/internal/testutil"
)

const (
	botID = "5215550009999:12@s.whatsapp.net"

	greetingJSON      = `{"intent":{"intencion":"saludo"},"needsMoreInfo":false,"shouldExecute":false,"contextSummary":"saludo"}`
	chartsNeedsPeriod = `{"intent":{"intencion":"graficas","variable":"ordenes","periodo":null},"needsMoreInfo":true,"missingField":"periodo","shouldExecute":false,"contextSummary":"faltan semanas"}`
	chartsTwoWeeks    = "```json\n" + `{"intent":{"intencion":"graficas","variable":"ordenes","periodo":2},"needsMoreInfo":false,"missingField":null,"shouldExecute":true,"contextSummary":"listo"}` + "\n```"
	chartsSixWeeks    = `{"intent":{"intencion":"graficas","variable":"gasto","periodo":6},"needsMoreInfo":false,"shouldExecute":true,"contextSummary":"listo"}`
	mltvJSON          = `{"intent":{"intencion":"mltv","tipo_reporte":"semanal"},"needsMoreInfo":false,"shouldExecute":true,"contextSummary":"mltv"}`
)

type fakeCharts struct {
	mu        sync.Mutex
	calls     []int
	variables []models.ChartVariable
	entered   chan struct{}
	release   chan struct{}
	err       error
}

func (f *fakeCharts) GenerateCharts(ctx context.Context, variable models.ChartVariable, period int) ([]models.ChartDescriptor, error) {
	f.mu.Lock()
	f.calls = append(f.calls, period)
	f.variables = append(f.variables, variable)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return []models.ChartDescriptor{
		{URL: "https://charts.example/a.png", Title: "México", Country: "MX", Period: period},
		{URL: "https://charts.example/b.png", Title: "Colombia", Country: "CO", Period: period},
	}, nil
}

func (f *fakeCharts) FetchMedia(ctx context.Context, charts []models.ChartDescriptor) ([]models.Media, error) {
	out := make([]models.Media, 0, len(charts))
	for _, c := range charts {
		out = append(out, models.Media{URL: c.URL, MimeType: "image/png", Filename: c.Country + ".png", Caption: c.Title})
	}
	return out, nil
}

func (f *fakeCharts) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

type fakeAnalysis struct {
	report string
	err    error
}

func (f fakeAnalysis) GenerateAnalysis(ctx context.Context) (string, error) {
	return f.report, f.err
}

type harness struct {
	d       *Dispatcher
	machine *flow.Machine
	tr      *testutil.FakeTransport
	oracle  *genai.MockGenerator
	charts  *fakeCharts
	state   *ClientState
	log     *store.InMemoryStore
	base    time.Time
	seq     int
}

func newHarness(t *testing.T, oracleReplies ...string) *harness {
	t.Helper()
	return newHarnessWithStore(t, conversation.NewStore(), oracleReplies...)
}

func newHarnessWithStore(t *testing.T, contexts *conversation.Store, oracleReplies ...string) *harness {
	t.Helper()
	oracle := genai.NewMockGenerator(oracleReplies...)
	machine := flow.NewMachine(contexts, intent.NewClassifier(oracle),
		flow.WithPicker(func(int) int { return 0 }))
	tr := testutil.NewFakeTransport(botID)
	state := readyState()
	sender := NewSender(tr, state, WithSenderConfig(instantConfig()))
	charts := &fakeCharts{}
	log := store.NewInMemoryStore()
	d := NewDispatcher(machine, sender, state,
		WithSelfID(tr.SelfID),
		WithMessageLog(log),
		WithWorkflows(charts, fakeAnalysis{report: "*MLTV* semana 10: +4%"}, nil),
		WithTimings(0, 0, 0, time.Minute))
	return &harness{
		d: d, machine: machine, tr: tr, oracle: oracle, charts: charts, state: state, log: log,
		base: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func (h *harness) say(body string) models.InboundMessage {
	h.seq++
	msg := testutil.GroupMessage(groupChat, body, h.base.Add(time.Duration(h.seq)*time.Second))
	h.d.Handle(context.Background(), msg)
	return msg
}

func TestDispatcher_ChartsConversationEndToEnd(t *testing.T) {
	h := newHarness(t, greetingJSON, chartsNeedsPeriod, chartsTwoWeeks)

	h.say("baruc")
	h.say("graficas de ordenes")
	h.say("2")

	texts := h.tr.TextBodies(groupChat)
	require.Len(t, texts, 6, "got %q", texts)
	assert.Contains(t, texts[0], "Soy Baruc")
	assert.Contains(t, texts[1], "¿Cuántas semanas")
	assert.Equal(t, "Haré las gráficas de órdenes de 2 semanas por ti, dame un minuto 📊", texts[2])
	assert.Contains(t, texts[3], "Generando gráficas de órdenes para 2 semanas")
	assert.Contains(t, texts[4], "Enviando 2 imágenes")
	assert.Contains(t, texts[5], "todas las 2 gráficas de órdenes (2 semanas acumulativo")

	assert.Equal(t, []int{2}, h.charts.Calls(), "workflow triggered exactly once")
	assert.Len(t, h.tr.Media(), 2)
	assert.False(t, h.machine.HasContext(groupChat), "context cleared after the workflow")
	assert.False(t, h.d.IsRunning(groupChat, models.IntentCharts))

	logged, err := h.log.GetMessages(groupChat, 10)
	require.NoError(t, err)
	assert.Len(t, logged, 3)
}

func TestDispatcher_ChartsPeriodAboveMaximumIsAdjusted(t *testing.T) {
	h := newHarness(t)
	rec := models.IntentRecord{Kind: models.IntentCharts, Variable: models.VariableExpenses}.WithPeriod(6)

	h.d.runCharts(context.Background(), groupChat, rec, 6)

	assert.Equal(t, []int{models.MaxPeriod}, h.charts.Calls())
	texts := h.tr.TextBodies(groupChat)
	require.NotEmpty(t, texts)
	assert.Contains(t, texts[0], "Período ajustado a 4 semanas")
}

func TestDispatcher_ClassifiedPeriodIsClamped(t *testing.T) {
	h := newHarness(t, chartsSixWeeks)

	h.say("baruc graficas de gasto de 6 semanas")

	assert.Equal(t, []int{models.MaxPeriod}, h.charts.Calls())
	texts := h.tr.TextBodies(groupChat)
	require.GreaterOrEqual(t, len(texts), 2)
	assert.Contains(t, texts[0], "gasto de 4 semanas")
	assert.Contains(t, texts[1], "Período ajustado a 4 semanas")
}

func TestDispatcher_ChartGenerationFailure(t *testing.T) {
	h := newHarness(t, chartsTwoWeeks)
	h.charts.err = errors.New("chart service down")

	h.say("baruc graficas de ordenes 2 semanas")

	texts := h.tr.TextBodies(groupChat)
	assert.Equal(t, msgChartsFailed, texts[len(texts)-1])
	assert.Empty(t, h.tr.Media())
	assert.False(t, h.machine.HasContext(groupChat))
}

func TestDispatcher_AnalysisWorkflow(t *testing.T) {
	h := newHarness(t, mltvJSON)

	h.say("baruc analisis mltv semanal")

	texts := h.tr.TextBodies(groupChat)
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "análisis MLTV")
	assert.Equal(t, "*MLTV* semana 10: +4%", texts[1])
	assert.False(t, h.machine.HasContext(groupChat))
}

func TestDispatcher_UnavailableWorkflow(t *testing.T) {
	zones := `{"intent":{"intencion":"op_zones","tipo_reporte":"mensual"},"needsMoreInfo":false,"shouldExecute":true}`
	h := newHarness(t, zones)

	h.say("baruc reporte de zonas mensual")

	texts := h.tr.TextBodies(groupChat)
	assert.Equal(t, msgUnavailable, texts[len(texts)-1])
}

func TestDispatcher_IgnoresUnaddressedMessages(t *testing.T) {
	h := newHarness(t, greetingJSON)

	h.say("alguien vio el partido?")

	assert.Empty(t, h.tr.Texts())
	assert.Empty(t, h.oracle.Prompts())
	assert.False(t, h.machine.HasContext(groupChat))
}

func TestDispatcher_IgnoresBareCancellationWithoutContext(t *testing.T) {
	h := newHarness(t, greetingJSON)

	h.say("baruc gracias")

	assert.Empty(t, h.tr.Texts())
	assert.False(t, h.machine.HasContext(groupChat))
}

func TestDispatcher_CancellationClosesOpenConversation(t *testing.T) {
	h := newHarness(t, greetingJSON)

	h.say("baruc")
	h.say("cancelar")

	texts := h.tr.TextBodies(groupChat)
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "Conversación cancelada")
	assert.False(t, h.machine.HasContext(groupChat))

	h.say("y las de gasto?")
	assert.Len(t, h.tr.TextBodies(groupChat), 2, "unaddressed follow-up after cancelling is ignored")
	assert.Len(t, h.oracle.Prompts(), 1)
}

func TestDispatcher_SweptConversationNeedsWakeWordAgain(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	contexts := conversation.NewStore(conversation.WithClock(func() time.Time { return now }))
	h := newHarnessWithStore(t, contexts, greetingJSON)

	h.say("baruc")
	require.Len(t, h.tr.TextBodies(groupChat), 1)
	require.True(t, h.machine.HasContext(groupChat))

	now = now.Add(31 * time.Minute)
	assert.Equal(t, 1, contexts.Sweep(now))
	assert.False(t, h.machine.HasContext(groupChat))

	h.say("y las de gasto?")
	assert.Len(t, h.tr.TextBodies(groupChat), 1)
	assert.Len(t, h.oracle.Prompts(), 1)
}

func TestDispatcher_WakeWordInsideAnotherWordIsIgnored(t *testing.T) {
	h := newHarness(t, greetingJSON)

	h.say("barucito ya llegó")

	assert.Empty(t, h.tr.Texts())
	assert.Empty(t, h.oracle.Prompts())
	assert.False(t, h.machine.HasContext(groupChat))
}

func TestDispatcher_MentionWithoutWakeWordIsAddressed(t *testing.T) {
	h := newHarness(t, greetingJSON)

	msg := testutil.GroupMessage(groupChat, "@5215550009999 hola", h.base)
	msg.MentionedIDs = []string{"5215550009999@s.whatsapp.net"}
	h.d.Handle(context.Background(), msg)

	require.Len(t, h.tr.Texts(), 1)
	prompts := h.oracle.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "baruc @5215550009999 hola")
}

func TestDispatcher_MentionOfSomeoneElseIsIgnored(t *testing.T) {
	h := newHarness(t, greetingJSON)

	msg := testutil.GroupMessage(groupChat, "@5215550001111 hola", h.base)
	msg.MentionedIDs = []string{"5215550001111@s.whatsapp.net"}
	h.d.Handle(context.Background(), msg)

	assert.Empty(t, h.tr.Texts())
}

func TestDispatcher_DuplicateInboundHandledOnce(t *testing.T) {
	h := newHarness(t, greetingJSON)
	msg := testutil.GroupMessage(groupChat, "baruc", h.base)

	h.d.Handle(context.Background(), msg)
	h.d.Handle(context.Background(), msg)

	assert.Len(t, h.oracle.Prompts(), 1)
	assert.Len(t, h.tr.Texts(), 1)
}

func TestDispatcher_SkipsNonGroupAndOwnMessages(t *testing.T) {
	h := newHarness(t, greetingJSON)

	direct := testutil.GroupMessage("5215550001111@s.whatsapp.net", "baruc", h.base)
	direct.IsGroup = false
	h.d.Handle(context.Background(), direct)

	own := testutil.GroupMessage(groupChat, "baruc", h.base.Add(time.Second))
	own.FromMe = true
	h.d.Handle(context.Background(), own)

	assert.Empty(t, h.tr.Texts())
	assert.Empty(t, h.oracle.Prompts())
}

func TestDispatcher_ReplyDroppedWhenTransportNotReady(t *testing.T) {
	h := newHarness(t, greetingJSON)
	h.state.SetReady(false)

	h.say("baruc")

	assert.Empty(t, h.tr.Texts())
	assert.True(t, h.machine.HasContext(groupChat), "the turn is still recorded")
}

func TestDispatcher_DroppedReplyAbandonsWorkflow(t *testing.T) {
	h := newHarness(t, chartsTwoWeeks)
	h.state.SetReady(false)

	h.say("baruc graficas de ordenes 2 semanas")

	assert.Empty(t, h.tr.Texts())
	_, active := h.machine.ActiveWorkflow(groupChat)
	assert.False(t, active, "workflow must not stay executing")
	assert.False(t, h.machine.HasContext(groupChat))
	assert.Empty(t, h.charts.Calls())
}

func TestDispatcher_IdenticalWorkflowRunsOnce(t *testing.T) {
	h := newHarness(t, chartsTwoWeeks)
	h.charts.entered = make(chan struct{}, 1)
	h.charts.release = make(chan struct{})

	// Bring the conversation to the executing state without running the workflow.
	reply := h.machine.Handle(context.Background(), groupChat, "baruc graficas de ordenes 2 semanas")
	require.NotEmpty(t, reply)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.d.runWorkflow(context.Background(), groupChat, reply)
	}()
	<-h.charts.entered
	assert.True(t, h.d.IsRunning(groupChat, models.IntentCharts))

	h.d.runWorkflow(context.Background(), groupChat, reply)

	close(h.charts.release)
	wg.Wait()
	assert.Equal(t, []int{2}, h.charts.Calls())
	assert.False(t, h.d.IsRunning(groupChat, models.IntentCharts))
}

func TestDispatcher_StartConsumesInbound(t *testing.T) {
	h := newHarness(t, greetingJSON)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.d.Start(ctx, h.tr.Inbound())
		close(done)
	}()

	h.tr.Deliver(testutil.GroupMessage(groupChat, "hola baruc", h.base))

	require.Eventually(t, func() bool {
		return len(h.tr.Texts()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestWorkflowKey(t *testing.T) {
	charts := models.IntentRecord{Kind: models.IntentCharts, Variable: models.VariableExpenses}.WithPeriod(3)
	assert.Equal(t, groupChat+"-gasto-3", workflowKey(groupChat, charts))
	assert.Equal(t, groupChat+"-mltv", workflowKey(groupChat, models.IntentRecord{Kind: models.IntentMultivertical}))
}

func TestRequestedPeriod(t *testing.T) {
	assert.Equal(t, 3, requestedPeriod(models.IntentRecord{}.WithPeriod(3), ""))
	assert.Equal(t, 6, requestedPeriod(models.IntentRecord{}.WithPeriod(6), ""))
	three := 3
	assert.Equal(t, 3, requestedPeriod(models.IntentRecord{Period: &three}, "de 2 semanas"))
	assert.Equal(t, 2, requestedPeriod(models.IntentRecord{}, "Haré las gráficas de órdenes de 2 semanas"))
	assert.Equal(t, models.DefaultPeriod, requestedPeriod(models.IntentRecord{}, "Haré las gráficas"))
}

func TestDedupKey(t *testing.T) {
	msg := testutil.GroupMessage(groupChat, strings.Repeat("á", 80), time.Unix(1700000000, 0))
	key := dedupKey(msg)
	assert.True(t, strings.HasPrefix(key, groupChat+"-1700000000-"))
	assert.Equal(t, 50, len([]rune(strings.TrimPrefix(key, groupChat+"-1700000000-"))))
}
