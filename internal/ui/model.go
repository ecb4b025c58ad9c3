package ui

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chart-core/internal/chart"
	"chart-core/internal/events"
	"chart-core/internal/monitor"
	"chart-core/internal/stream"
	"chart-core/pkg/theme"
)

type priceMsg struct{ update stream.PriceUpdate }
type stateMsg struct{ state stream.State }
type candleMsg struct{}

// Model is the bubbletea program driving the chart surface.
type Model struct {
	store     *chart.Store
	ctrl      *Controller
	notes     *Annotations
	pipe      *Pipeline
	theme     theme.Theme
	manager   *stream.Manager
	metrics   *monitor.Metrics
	exportDir string
	symbol    string

	prices  <-chan any
	states  <-chan any
	candles <-chan any
	unsubs  []func()

	width, height int
	lastPrice     float64
	hasPrice      bool
	change        float64
	connState     stream.State
	status        string
}

// NewModel wires the TUI to the shared stores and the event bus.
func NewModel(store *chart.Store, notes *Annotations, manager *stream.Manager, bus *events.Bus, th theme.Theme, metrics *monitor.Metrics, exportDir, symbol string) *Model {
	ctrl := NewController(store, notes)
	pipe := NewPipeline()
	ctrl.AxisWidth = float64(pipe.AxisWidth)

	m := &Model{
		store:     store,
		ctrl:      ctrl,
		notes:     notes,
		pipe:      pipe,
		theme:     th,
		manager:   manager,
		metrics:   metrics,
		exportDir: exportDir,
		symbol:    symbol,
	}

	prices, unsubP := bus.Subscribe(events.EventPriceUpdate, 32)
	states, unsubS := bus.Subscribe(events.EventConnState, 32)
	candles, unsubC := bus.Subscribe(events.EventCandle, 32)
	m.prices, m.states, m.candles = prices, states, candles
	m.unsubs = []func(){unsubP, unsubS, unsubC}
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(waitPrice(m.prices), waitState(m.states), waitCandle(m.candles))
}

func waitPrice(ch <-chan any) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		if u, ok := v.(stream.PriceUpdate); ok {
			return priceMsg{update: u}
		}
		return candleMsg{}
	}
}

func waitState(ch <-chan any) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		if s, ok := v.(stream.State); ok {
			return stateMsg{state: s}
		}
		return candleMsg{}
	}
}

func waitCandle(ch <-chan any) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return candleMsg{}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ctrl.SetSize(float64(m.width), float64(m.chartHeight()))
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		m.handleMouse(msg)
		return m, nil

	case priceMsg:
		m.lastPrice = msg.update.Price
		m.change = msg.update.Change
		m.hasPrice = true
		return m, waitPrice(m.prices)

	case stateMsg:
		m.connState = msg.state
		return m, waitState(m.states)

	case candleMsg:
		return m, waitCandle(m.candles)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.manager.Disconnect()
		for _, unsub := range m.unsubs {
			unsub()
		}
		return m, tea.Quit
	case "d":
		m.toggleTool(ToolDraw)
	case "t":
		m.toggleTool(ToolMeasure)
	case "esc":
		m.ctrl.SetTool(ToolNone)
		m.ctrl.PointerLeave()
	case "c":
		m.notes.Clear()
		m.status = "annotations cleared"
	case "s":
		m.pipe.Style = m.pipe.Style.Next()
		m.status = "series: " + m.pipe.Style.String()
	case "e":
		m.exportFrame()
	case "r":
		m.manager.Connect(context.Background(), m.symbol)
		m.status = "reconnecting " + m.symbol
	}
	return m, nil
}

func (m *Model) toggleTool(t Tool) {
	if m.ctrl.Tool() == t {
		m.ctrl.SetTool(ToolNone)
		return
	}
	m.ctrl.SetTool(t)
}

func (m *Model) handleMouse(msg tea.MouseMsg) {
	// Row 0 is the header; the chart body starts below it.
	x := float64(msg.X)
	y := float64(msg.Y - 1)
	now := time.Now()

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.ctrl.Wheel(x, y, 1, now)
		return
	case tea.MouseButtonWheelDown:
		m.ctrl.Wheel(x, y, -1, now)
		return
	}

	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button == tea.MouseButtonLeft {
			m.ctrl.PointerDown(x, y, now)
		}
	case tea.MouseActionMotion:
		m.ctrl.PointerMove(x, y, now)
	case tea.MouseActionRelease:
		m.ctrl.PointerUp(x, y, now)
	}
}

func (m *Model) exportFrame() {
	cv, ok := m.buildFrame()
	if !ok {
		m.status = "nothing to export"
		return
	}
	path, err := ExportFrame(m.exportDir, cv)
	if err != nil {
		log.Printf("[UI] export failed: %v", err)
		m.status = "export failed"
		return
	}
	m.status = "exported " + path
}

func (m *Model) chartHeight() int {
	h := m.height - 2 // header + footer
	if h < 3 {
		h = 3
	}
	return h
}

func (m *Model) buildFrame() (*Canvas, bool) {
	st := FrameState{
		Candles:  m.store.Candles(),
		Viewport: m.store.Viewport(),
		Width:    m.width,
		Height:   m.chartHeight(),
		Markers:  m.notes.Markers(),
		Drawings: m.notes.Drawings(),
	}
	if x, y, ok := m.ctrl.Hover(); ok {
		st.CrossX, st.CrossY, st.HasCross = int(x), int(y), true
	}
	if idx, price, cx, cy, ok := m.ctrl.ActiveSegment(); ok {
		if tr, trOK := chart.NewTransform(st.Candles, st.Viewport, float64(st.Width-m.pipe.AxisWidth), float64(st.Height)); trOK {
			st.Preview = &Drawing{
				StartIndex: idx, StartPrice: price,
				EndIndex: tr.IndexAt(cx), EndPrice: tr.PriceAt(cy),
			}
		}
	}
	return m.pipe.BuildFrame(st)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "starting…"
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteByte('\n')

	start := time.Now()
	cv, ok := m.buildFrame()
	if ok {
		b.WriteString(cv.Styled(m.theme))
		if m.metrics != nil {
			m.metrics.RenderLatency.RecordDuration(time.Since(start))
			m.metrics.IncrementFrames()
		}
	} else {
		b.WriteString(m.renderPlaceholder())
	}
	b.WriteByte('\n')
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m *Model) renderHeader() string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(m.theme.Label))
	price := "—"
	if m.hasPrice {
		price = fmt.Sprintf("%.2f (%+.2f%%)", m.lastPrice, m.change)
	}
	extras := ""
	if m.store.Loading() {
		extras = "  loading…"
	} else if e := m.store.Err(); e != "" {
		extras = "  ! " + e
	}
	return headerStyle.Render(fmt.Sprintf("%s  %s  [%s]%s", m.symbol, price, m.connState, extras))
}

func (m *Model) renderPlaceholder() string {
	msg := "waiting for data…"
	if e := m.store.Err(); e != "" {
		msg = e
	}
	lines := make([]string, m.chartHeight())
	mid := len(lines) / 2
	pad := (m.width - len(msg)) / 2
	if pad < 0 {
		pad = 0
	}
	lines[mid] = strings.Repeat(" ", pad) + msg
	return strings.Join(lines, "\n")
}

func (m *Model) renderFooter() string {
	footerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(m.theme.Axis))
	help := "[q] quit  [d] draw  [t] measure  [c] clear  [s] style  [e] export  [r] reconnect"
	if m.status != "" {
		help += "  |  " + m.status
	}
	if tool := m.ctrl.Tool(); tool == ToolDraw {
		help += "  |  drawing"
	} else if tool == ToolMeasure {
		help += "  |  measuring"
	}
	return footerStyle.Render(help)
}
