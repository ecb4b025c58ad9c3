// Package ui holds the interaction state machine, the annotation set
// and the frame render pipeline for the chart surface.
package ui

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chart-core/internal/chart"
)

// Phase is the interaction state the pointer is currently driving.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePanning
	PhaseVerticalScaling
	PhaseDrawing
	PhaseMeasuring
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePanning:
		return "panning"
	case PhaseVerticalScaling:
		return "vertical-scaling"
	case PhaseDrawing:
		return "drawing"
	case PhaseMeasuring:
		return "measuring"
	default:
		return "phase(?)"
	}
}

// Tool selects what a pointer-down inside the chart body starts.
type Tool int

const (
	ToolNone Tool = iota
	ToolDraw
	ToolMeasure
)

const (
	// DefaultAxisWidth is the right-hand strip, in surface units, that
	// classifies a pointer-down as vertical scaling.
	DefaultAxisWidth = 50.0

	// pointerInterval bounds how often continuous handlers (pan, scale,
	// wheel) mutate the viewport.
	pointerInterval = 30 * time.Millisecond

	doubleClickWindow = 300 * time.Millisecond

	wheelZoomStep     = 1.25
	verticalDragGain  = 0.01
	verticalWheelStep = 1.1
)

// Controller turns pointer and wheel events into viewport mutations and
// annotation commits. All handlers take an explicit time so behavior is
// deterministic under test.
type Controller struct {
	store *chart.Store
	notes *Annotations

	// OnPrice is invoked with the price under the cursor on double-click.
	OnPrice func(price float64)

	// AxisWidth is the width of the price-axis strip on the right edge.
	AxisWidth float64

	mu            sync.Mutex
	width, height float64
	phase         Phase
	tool          Tool
	limiter       *rate.Limiter

	lastX, lastY float64
	panCarry     float64

	hoverX, hoverY float64
	hasHover       bool

	anchorIndex int
	anchorPrice float64

	lastPress time.Time
}

// NewController wires the interaction state machine to its store and
// annotation set.
func NewController(store *chart.Store, notes *Annotations) *Controller {
	return &Controller{
		store:     store,
		notes:     notes,
		AxisWidth: DefaultAxisWidth,
		limiter:   rate.NewLimiter(rate.Every(pointerInterval), 1),
	}
}

// SetSize records the surface dimensions in the same units the pointer
// events use.
func (c *Controller) SetSize(width, height float64) {
	c.mu.Lock()
	c.width = width
	c.height = height
	c.mu.Unlock()
}

// SetTool selects the active tool for subsequent pointer-downs.
func (c *Controller) SetTool(t Tool) {
	c.mu.Lock()
	c.tool = t
	c.mu.Unlock()
}

// Tool returns the active tool.
func (c *Controller) Tool() Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tool
}

// Phase returns the current interaction phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Hover returns the last pointer position, used for the crosshair.
func (c *Controller) Hover() (x, y float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hoverX, c.hoverY, c.hasHover
}

// ActiveSegment returns the in-progress drawing or measurement anchor
// plus the current pointer position, for the render preview.
func (c *Controller) ActiveSegment() (startIdx int, startPrice, curX, curY float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseDrawing && c.phase != PhaseMeasuring {
		return 0, 0, 0, 0, false
	}
	return c.anchorIndex, c.anchorPrice, c.hoverX, c.hoverY, true
}

// PointerDown classifies the press into a phase by zone. Two presses
// within the double-click window place a marker instead.
func (c *Controller) PointerDown(x, y float64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store.Len() == 0 {
		return
	}

	if !c.lastPress.IsZero() && now.Sub(c.lastPress) < doubleClickWindow {
		c.lastPress = time.Time{}
		c.placeMarkerLocked(x, y)
		return
	}
	c.lastPress = now
	c.lastX, c.lastY = x, y
	c.panCarry = 0

	switch {
	case x >= c.width-c.AxisWidth:
		c.phase = PhaseVerticalScaling
	case c.tool == ToolDraw:
		if tr, ok := c.transformLocked(); ok {
			c.anchorIndex = tr.IndexAt(x)
			c.anchorPrice = tr.PriceAt(y)
			c.phase = PhaseDrawing
		}
	case c.tool == ToolMeasure:
		if tr, ok := c.transformLocked(); ok {
			c.anchorIndex = tr.IndexAt(x)
			c.anchorPrice = tr.PriceAt(y)
			c.phase = PhaseMeasuring
		}
	default:
		c.phase = PhasePanning
	}
}

// PointerMove drives the active phase. Pan and scale mutations are
// rate-limited; skipped deltas accumulate instead of being lost.
func (c *Controller) PointerMove(x, y float64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hoverX, c.hoverY = x, y
	c.hasHover = true

	if c.store.Len() == 0 {
		return
	}

	switch c.phase {
	case PhasePanning:
		if !c.limiter.AllowN(now, 1) {
			return
		}
		dx := x - c.lastX
		c.lastX, c.lastY = x, y
		c.panLocked(dx)
	case PhaseVerticalScaling:
		if !c.limiter.AllowN(now, 1) {
			return
		}
		dy := y - c.lastY
		c.lastX, c.lastY = x, y
		vp := c.store.Viewport()
		factor := 1 + dy*verticalDragGain
		if factor < 0.1 {
			factor = 0.1
		}
		c.store.SetPriceScale(vp.PriceScale * factor)
	}
}

// PointerUp commits in-progress tool interactions and returns to idle.
func (c *Controller) PointerUp(x, y float64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseDrawing:
		if tr, ok := c.transformLocked(); ok {
			c.notes.AddDrawing(c.anchorIndex, c.anchorPrice, tr.IndexAt(x), tr.PriceAt(y))
		}
	case PhaseMeasuring:
		if tr, ok := c.transformLocked(); ok {
			c.notes.AddMeasurement(c.anchorIndex, c.anchorPrice, tr.IndexAt(x), tr.PriceAt(y))
		}
	}
	c.phase = PhaseIdle
}

// PointerLeave abandons any in-progress interaction without committing.
func (c *Controller) PointerLeave() {
	c.mu.Lock()
	c.phase = PhaseIdle
	c.hasHover = false
	c.mu.Unlock()
}

// Wheel zooms: vertically over the price-axis strip, horizontally
// (anchored at the cursor) elsewhere. delta > 0 zooms in.
func (c *Controller) Wheel(x, y, delta float64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store.Len() == 0 || delta == 0 {
		return
	}
	if !c.limiter.AllowN(now, 1) {
		return
	}

	if x >= c.width-c.AxisWidth {
		vp := c.store.Viewport()
		if delta > 0 {
			c.store.SetPriceScale(vp.PriceScale * verticalWheelStep)
		} else {
			c.store.SetPriceScale(vp.PriceScale / verticalWheelStep)
		}
		return
	}
	c.zoomLocked(x, delta)
}

// panLocked converts a horizontal pixel delta into an index shift,
// preserving the window size and re-anchoring at either boundary.
func (c *Controller) panLocked(dx float64) {
	body := c.width - c.AxisWidth
	if body <= 0 {
		return
	}
	dataLen := c.store.Len()
	shiftF := c.panCarry + dx*float64(dataLen)/body
	shift := int(shiftF)
	c.panCarry = shiftF - float64(shift)
	if shift == 0 {
		return
	}

	vp := c.store.Viewport()
	size := vp.Visible.Size()
	// Dragging right reveals older data.
	start := vp.Visible.Start - shift
	if start+size > dataLen-1 {
		start = dataLen - 1 - size
	}
	if start < 0 {
		start = 0
	}
	c.store.SetVisibleRange(chart.Range{Start: start, End: start + size})
}

// zoomLocked resizes the visible window around the data index under the
// cursor so it keeps its relative screen position.
func (c *Controller) zoomLocked(x float64, delta float64) {
	body := c.width - c.AxisWidth
	if body <= 0 {
		return
	}
	dataLen := c.store.Len()
	vp := c.store.Viewport()
	size := vp.Visible.Size()

	factor := wheelZoomStep
	if delta > 0 {
		factor = 1 / wheelZoomStep
	}
	newSize := int(math.Round(float64(size) * factor))
	if newSize < chart.MinVisible {
		newSize = chart.MinVisible
	}
	if newSize > dataLen-1 {
		newSize = dataLen - 1
	}
	if newSize == size {
		return
	}

	rel := x / body
	if rel < 0 {
		rel = 0
	}
	if rel > 1 {
		rel = 1
	}
	anchor := float64(vp.Visible.Start) + rel*float64(size)
	start := int(math.Round(anchor - rel*float64(newSize)))
	if start+newSize > dataLen-1 {
		start = dataLen - 1 - newSize
	}
	if start < 0 {
		start = 0
	}
	c.store.SetVisibleRange(chart.Range{Start: start, End: start + newSize})
}

// placeMarkerLocked drops a marker at the nearest index and reports the
// price under the cursor.
func (c *Controller) placeMarkerLocked(x, y float64) {
	tr, ok := c.transformLocked()
	if !ok {
		return
	}
	price := tr.PriceAt(y)
	c.notes.AddMarker(tr.IndexAt(x), price)
	if c.OnPrice != nil {
		c.OnPrice(price)
	}
}

func (c *Controller) transformLocked() (chart.Transform, bool) {
	return chart.NewTransform(c.store.Candles(), c.store.Viewport(), c.width-c.AxisWidth, c.height)
}
