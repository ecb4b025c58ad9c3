package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"chart-core/internal/chart"
	"chart-core/pkg/theme"
)

// Role tags what layer painted a cell, so styling stays separate from
// layout and the layout is testable on its own.
type Role uint8

const (
	RoleBlank Role = iota
	RoleGrid
	RoleBull
	RoleBear
	RoleWick
	RoleLine
	RoleArea
	RoleVolume
	RoleCrosshair
	RoleMarker
	RoleDrawing
	RoleAxis
	RoleLabel
)

// Cell is one character of the unstyled frame.
type Cell struct {
	Ch   rune
	Role Role
}

// Canvas is the unstyled cell layer a frame is composed onto.
type Canvas struct {
	W, H  int
	cells [][]Cell
}

func NewCanvas(w, h int) *Canvas {
	cells := make([][]Cell, h)
	for y := range cells {
		cells[y] = make([]Cell, w)
		for x := range cells[y] {
			cells[y][x] = Cell{Ch: ' ', Role: RoleBlank}
		}
	}
	return &Canvas{W: w, H: h, cells: cells}
}

func (c *Canvas) set(x, y int, ch rune, role Role) {
	if x < 0 || x >= c.W || y < 0 || y >= c.H {
		return
	}
	c.cells[y][x] = Cell{Ch: ch, Role: role}
}

// At returns the cell at (x, y); out-of-bounds reads return a blank.
func (c *Canvas) At(x, y int) Cell {
	if x < 0 || x >= c.W || y < 0 || y >= c.H {
		return Cell{Ch: ' ', Role: RoleBlank}
	}
	return c.cells[y][x]
}

// String renders the plain cell layer without styling.
func (c *Canvas) String() string {
	var b strings.Builder
	for y := 0; y < c.H; y++ {
		for x := 0; x < c.W; x++ {
			b.WriteRune(c.cells[y][x].Ch)
		}
		if y < c.H-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Styled renders the frame with the theme applied per role.
func (c *Canvas) Styled(th theme.Theme) string {
	styles := map[Role]lipgloss.Style{
		RoleGrid:      lipgloss.NewStyle().Foreground(lipgloss.Color(th.Grid)),
		RoleBull:      lipgloss.NewStyle().Foreground(lipgloss.Color(th.Bull)),
		RoleBear:      lipgloss.NewStyle().Foreground(lipgloss.Color(th.Bear)),
		RoleWick:      lipgloss.NewStyle().Foreground(lipgloss.Color(th.Wick)),
		RoleLine:      lipgloss.NewStyle().Foreground(lipgloss.Color(th.Line)),
		RoleArea:      lipgloss.NewStyle().Foreground(lipgloss.Color(th.Area)),
		RoleVolume:    lipgloss.NewStyle().Foreground(lipgloss.Color(th.Volume)),
		RoleCrosshair: lipgloss.NewStyle().Foreground(lipgloss.Color(th.Crosshair)),
		RoleMarker:    lipgloss.NewStyle().Foreground(lipgloss.Color(th.Marker)),
		RoleDrawing:   lipgloss.NewStyle().Foreground(lipgloss.Color(th.Drawing)),
		RoleAxis:      lipgloss.NewStyle().Foreground(lipgloss.Color(th.Axis)),
		RoleLabel:     lipgloss.NewStyle().Foreground(lipgloss.Color(th.Label)).Bold(true),
	}

	var b strings.Builder
	for y := 0; y < c.H; y++ {
		for x := 0; x < c.W; x++ {
			cell := c.cells[y][x]
			if st, ok := styles[cell.Role]; ok && cell.Ch != ' ' {
				b.WriteString(st.Render(string(cell.Ch)))
			} else {
				b.WriteRune(cell.Ch)
			}
		}
		if y < c.H-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// SeriesStyle selects how the price series is drawn.
type SeriesStyle int

const (
	StyleCandles SeriesStyle = iota
	StyleOHLC
	StyleLine
	StyleArea
)

func (s SeriesStyle) String() string {
	switch s {
	case StyleCandles:
		return "candles"
	case StyleOHLC:
		return "ohlc"
	case StyleLine:
		return "line"
	case StyleArea:
		return "area"
	default:
		return "style(?)"
	}
}

// Next cycles to the following series style.
func (s SeriesStyle) Next() SeriesStyle {
	return SeriesStyle((int(s) + 1) % 4)
}

// FrameState is everything one draw pass needs.
type FrameState struct {
	Candles  []chart.Candle
	Viewport chart.Viewport
	Width    int
	Height   int

	CrossX, CrossY int
	HasCross       bool

	Markers  []Marker
	Drawings []Drawing
	Preview  *Drawing
}

// Pipeline composes one frame in a fixed layer order: grid, series,
// volume, crosshair, markers, drawings, then the price-axis gutter.
type Pipeline struct {
	Style      SeriesStyle
	AxisWidth  int
	ShowVolume bool
}

func NewPipeline() *Pipeline {
	return &Pipeline{Style: StyleCandles, AxisWidth: 10, ShowVolume: true}
}

// BuildFrame lays the unstyled cell layer out. ok is false when the
// frame is degenerate (empty slice, flat price range, no room) and must
// be skipped.
func (p *Pipeline) BuildFrame(st FrameState) (*Canvas, bool) {
	bodyW := st.Width - p.AxisWidth
	if bodyW < 2 || st.Height < 2 {
		return nil, false
	}
	tr, ok := chart.NewTransform(st.Candles, st.Viewport, float64(bodyW), float64(st.Height))
	if !ok {
		return nil, false
	}

	cv := NewCanvas(st.Width, st.Height)
	p.drawGrid(cv, bodyW)
	p.drawSeries(cv, tr, st.Candles)
	if p.ShowVolume {
		p.drawVolume(cv, tr, st.Candles, bodyW)
	}
	if st.HasCross {
		p.drawCrosshair(cv, tr, bodyW, st.CrossX, st.CrossY)
	}
	p.drawMarkers(cv, tr, st.Markers)
	for _, d := range st.Drawings {
		p.drawSegment(cv, tr, d)
	}
	if st.Preview != nil {
		p.drawSegment(cv, tr, *st.Preview)
	}
	p.drawAxis(cv, tr, bodyW)
	return cv, true
}

func (p *Pipeline) drawGrid(cv *Canvas, bodyW int) {
	for _, frac := range []float64{0.25, 0.5, 0.75} {
		y := int(float64(cv.H) * frac)
		for x := 0; x < bodyW; x++ {
			cv.set(x, y, '┄', RoleGrid)
		}
	}
}

func (p *Pipeline) drawSeries(cv *Canvas, tr chart.Transform, candles []chart.Candle) {
	v := tr.Visible()
	for i := v.Start; i <= v.End; i++ {
		c := candles[i]
		x := pixelCol(tr, i, cv)
		closeRow := rowFor(tr, c.Price, cv)

		switch p.Style {
		case StyleCandles, StyleOHLC:
			hiRow := rowFor(tr, c.High, cv)
			loRow := rowFor(tr, c.Low, cv)
			role := RoleBull
			if i > v.Start && c.Price < candles[i-1].Price {
				role = RoleBear
			}
			for y := hiRow; y <= loRow; y++ {
				cv.set(x, y, '│', RoleWick)
			}
			if p.Style == StyleOHLC {
				cv.set(x, closeRow, '─', role)
				continue
			}
			bodyTop, bodyBot := closeRow, closeRow
			if i > v.Start {
				prevRow := rowFor(tr, candles[i-1].Price, cv)
				if prevRow < bodyTop {
					bodyTop = prevRow
				}
				if prevRow > bodyBot {
					bodyBot = prevRow
				}
			}
			for y := bodyTop; y <= bodyBot; y++ {
				cv.set(x, y, '█', role)
			}
		case StyleLine, StyleArea:
			cv.set(x, closeRow, '●', RoleLine)
			if i > v.Start {
				prevRow := rowFor(tr, candles[i-1].Price, cv)
				prevX := pixelCol(tr, i-1, cv)
				connectRows(cv, prevX, x, prevRow, closeRow)
			}
			if p.Style == StyleArea {
				for y := closeRow + 1; y < cv.H; y++ {
					if cv.At(x, y).Role == RoleBlank {
						cv.set(x, y, '░', RoleArea)
					}
				}
			}
		}
	}
}

// drawVolume paints bottom-anchored bars scaled to the visible maximum,
// in the lowest quarter of the frame.
func (p *Pipeline) drawVolume(cv *Canvas, tr chart.Transform, candles []chart.Candle, bodyW int) {
	v := tr.Visible()
	maxVol := 0.0
	for i := v.Start; i <= v.End; i++ {
		if candles[i].Volume > maxVol {
			maxVol = candles[i].Volume
		}
	}
	if maxVol <= 0 {
		return
	}

	bandH := cv.H / 4
	if bandH < 1 {
		bandH = 1
	}
	for i := v.Start; i <= v.End; i++ {
		x := pixelCol(tr, i, cv)
		h := int(math.Ceil(candles[i].Volume / maxVol * float64(bandH)))
		for y := cv.H - h; y < cv.H; y++ {
			if cv.At(x, y).Role == RoleBlank || cv.At(x, y).Role == RoleArea {
				cv.set(x, y, '▄', RoleVolume)
			}
		}
	}
}

func (p *Pipeline) drawCrosshair(cv *Canvas, tr chart.Transform, bodyW, cx, cy int) {
	if cx < 0 || cx >= bodyW || cy < 0 || cy >= cv.H {
		return
	}
	for x := 0; x < bodyW; x++ {
		if x%2 == 0 && crosshairCanCover(cv.At(x, cy).Role) {
			cv.set(x, cy, '╌', RoleCrosshair)
		}
	}
	for y := 0; y < cv.H; y++ {
		if y%2 == 0 && crosshairCanCover(cv.At(cx, y).Role) {
			cv.set(cx, y, '╎', RoleCrosshair)
		}
	}
	// Price label box in the gutter at the crosshair row.
	label := fmt.Sprintf("%9.2f", tr.PriceAt(float64(cy)))
	for i, ch := range label {
		cv.set(bodyW+1+i, cy, ch, RoleLabel)
	}
}

// crosshairCanCover keeps series ink visible under the crosshair while
// letting it cross the background layers.
func crosshairCanCover(r Role) bool {
	return r == RoleBlank || r == RoleGrid || r == RoleArea
}

func (p *Pipeline) drawMarkers(cv *Canvas, tr chart.Transform, markers []Marker) {
	v := tr.Visible()
	for _, m := range markers {
		if m.Index < v.Start || m.Index > v.End {
			continue
		}
		cv.set(pixelCol(tr, m.Index, cv), rowFor(tr, m.Price, cv), '◆', RoleMarker)
	}
}

// drawSegment rasterizes a committed or in-progress line drawing.
func (p *Pipeline) drawSegment(cv *Canvas, tr chart.Transform, d Drawing) {
	x0 := pixelCol(tr, d.StartIndex, cv)
	y0 := rowFor(tr, d.StartPrice, cv)
	x1 := pixelCol(tr, d.EndIndex, cv)
	y1 := rowFor(tr, d.EndPrice, cv)

	steps := maxInt(absInt(x1-x0), absInt(y1-y0))
	if steps == 0 {
		cv.set(x0, y0, '•', RoleDrawing)
		return
	}
	for s := 0; s <= steps; s++ {
		t := float64(s) / float64(steps)
		x := x0 + int(math.Round(t*float64(x1-x0)))
		y := y0 + int(math.Round(t*float64(y1-y0)))
		cv.set(x, y, '•', RoleDrawing)
	}
}

// drawAxis paints the separator and evenly spaced price labels in the
// right-hand gutter.
func (p *Pipeline) drawAxis(cv *Canvas, tr chart.Transform, bodyW int) {
	for y := 0; y < cv.H; y++ {
		cv.set(bodyW, y, '│', RoleAxis)
	}
	ticks := 5
	for t := 0; t < ticks; t++ {
		y := t * (cv.H - 1) / (ticks - 1)
		if cv.At(bodyW+1, y).Role == RoleLabel {
			continue
		}
		label := fmt.Sprintf("%9.2f", tr.PriceAt(float64(y)))
		for i, ch := range label {
			cv.set(bodyW+1+i, y, ch, RoleAxis)
		}
	}
}

func pixelCol(tr chart.Transform, i int, cv *Canvas) int {
	x := int(tr.PixelX(i))
	if v := tr.Visible(); i == v.End && x > 0 {
		x-- // the last index maps to the right edge; pull it inside
	}
	return x
}

func rowFor(tr chart.Transform, price float64, cv *Canvas) int {
	y := int(tr.PixelY(price))
	if y < 0 {
		y = 0
	}
	if y > cv.H-1 {
		y = cv.H - 1
	}
	return y
}

func connectRows(cv *Canvas, x0, x1, y0, y1 int) {
	if x1 <= x0 {
		return
	}
	for x := x0 + 1; x < x1; x++ {
		t := float64(x-x0) / float64(x1-x0)
		y := y0 + int(math.Round(t*float64(y1-y0)))
		if cv.At(x, y).Role == RoleBlank {
			cv.set(x, y, '·', RoleLine)
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
