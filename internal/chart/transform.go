package chart

// Transform is the pure mapping between (data index, price) and pixel
// space for one frame. Build one per draw pass; the zero value is not
// usable.
type Transform struct {
	start, end         int
	minPrice, maxPrice float64
	width, height      float64
}

// NewTransform computes the frame mapping. ok is false when the visible
// slice is empty or its price range is degenerate; callers skip the
// frame entirely in that case.
func NewTransform(candles []Candle, vp Viewport, width, height float64) (Transform, bool) {
	if width <= 0 || height <= 0 {
		return Transform{}, false
	}
	v := vp.Visible
	if v.Start < 0 || v.End >= len(candles) || v.Start >= v.End {
		return Transform{}, false
	}

	minP, maxP, ok := visibleExtremes(candles, v, vp.PriceScale)
	if !ok {
		return Transform{}, false
	}
	return Transform{
		start:    v.Start,
		end:      v.End,
		minPrice: minP,
		maxPrice: maxP,
		width:    width,
		height:   height,
	}, true
}

// visibleExtremes finds min(low)/max(high) over the visible slice, then
// widens or narrows the band around its midpoint by 1/priceScale.
func visibleExtremes(candles []Candle, v Range, priceScale float64) (float64, float64, bool) {
	slice := candles[v.Start : v.End+1]
	if len(slice) == 0 {
		return 0, 0, false
	}

	minP := slice[0].Low
	maxP := slice[0].High
	for _, c := range slice[1:] {
		if c.Low < minP {
			minP = c.Low
		}
		if c.High > maxP {
			maxP = c.High
		}
	}
	if maxP == minP {
		return 0, 0, false
	}

	if priceScale <= 0 {
		priceScale = 1
	}
	mid := (minP + maxP) / 2
	half := (maxP - minP) / 2 / priceScale
	return mid - half, mid + half, true
}

// PixelX maps a data index onto the horizontal axis.
func (t Transform) PixelX(i int) float64 {
	return float64(i-t.start) / float64(t.end-t.start) * t.width
}

// PixelY maps a price onto the vertical axis (0 at the top).
func (t Transform) PixelY(price float64) float64 {
	return t.height - (price-t.minPrice)/(t.maxPrice-t.minPrice)*t.height
}

// IndexAt inverts PixelX, clamped to the visible range.
func (t Transform) IndexAt(x float64) int {
	i := t.start + int(x/t.width*float64(t.end-t.start)+0.5)
	if i < t.start {
		return t.start
	}
	if i > t.end {
		return t.end
	}
	return i
}

// PriceAt inverts PixelY.
func (t Transform) PriceAt(y float64) float64 {
	return t.minPrice + (t.height-y)/t.height*(t.maxPrice-t.minPrice)
}

// PriceBounds exposes the widened visible extremes.
func (t Transform) PriceBounds() (min, max float64) {
	return t.minPrice, t.maxPrice
}

// Visible exposes the index range this transform was built for.
func (t Transform) Visible() Range {
	return Range{Start: t.start, End: t.end}
}
