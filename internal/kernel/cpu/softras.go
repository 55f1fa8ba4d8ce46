package cpu

import "math"

// polygon is the soft-rasterized shape: a closed polygon whose vertices are
// consumed in order. Triangles are the common case.
type polygon struct {
	xs, ys []float64
	orient float64 // +1 counter-clockwise, -1 clockwise, 0 degenerate
}

// newPolygon builds a polygon from an (N, 2) row-major vertex buffer.
func newPolygon(vertices []float32) polygon {
	n := len(vertices) / 2
	pg := polygon{
		xs: make([]float64, n),
		ys: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		pg.xs[i] = float64(vertices[2*i])
		pg.ys[i] = float64(vertices[2*i+1])
	}

	// Shoelace formula; the sign gives the winding order.
	var area float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += pg.xs[i]*pg.ys[j] - pg.xs[j]*pg.ys[i]
	}
	switch {
	case n < 3 || math.Abs(area) < degenerateArea:
		pg.orient = 0
	case area > 0:
		pg.orient = 1
	default:
		pg.orient = -1
	}
	return pg
}

// translated returns a copy of the polygon shifted by (dx, dy).
func (pg polygon) translated(dx, dy float64) polygon {
	out := polygon{
		xs:     make([]float64, len(pg.xs)),
		ys:     make([]float64, len(pg.ys)),
		orient: pg.orient,
	}
	for i := range pg.xs {
		out.xs[i] = pg.xs[i] + dx
		out.ys[i] = pg.ys[i] + dy
	}
	return out
}

const (
	degenerateArea = 1e-12
	degenerateEdge = 1e-12
)

// signedDistance returns the distance from (px, py) to the nearest edge
// line, positive inside the polygon, together with the index of that edge.
// Edge k runs from vertex k to vertex k+1. Returns edge -1 for degenerate
// polygons, which cover nothing.
func (pg polygon) signedDistance(px, py float64) (float64, int) {
	if pg.orient == 0 {
		return math.Inf(-1), -1
	}
	n := len(pg.xs)
	best, edge := math.Inf(1), -1
	for k := 0; k < n; k++ {
		j := (k + 1) % n
		ux, uy := pg.xs[j]-pg.xs[k], pg.ys[j]-pg.ys[k]
		length := math.Hypot(ux, uy)
		if length < degenerateEdge {
			continue
		}
		wx, wy := px-pg.xs[k], py-pg.ys[k]
		e := pg.orient * (ux*wy - uy*wx) / length
		if e < best {
			best, edge = e, k
		}
	}
	if edge < 0 {
		return math.Inf(-1), -1
	}
	return best, edge
}

// coverage returns the soft coverage sigmoid(d / sigma) at (px, py).
func (pg polygon) coverage(px, py, sigma float64) float64 {
	d, edge := pg.signedDistance(px, py)
	if edge < 0 {
		return 0
	}
	return sigmoid(d / sigma)
}

// edgeGradient returns the derivative of the signed distance to edge k with
// respect to both edge endpoints a = v[k] and b = v[k+1].
func (pg polygon) edgeGradient(k int, px, py float64) (dax, day, dbx, dby float64) {
	j := (k + 1) % len(pg.xs)
	ux, uy := pg.xs[j]-pg.xs[k], pg.ys[j]-pg.ys[k]
	wx, wy := px-pg.xs[k], py-pg.ys[k]
	length := math.Hypot(ux, uy)
	cross := ux*wy - uy*wx
	l3 := length * length * length
	s := pg.orient

	dax = s * ((uy-wy)/length + cross*ux/l3)
	day = s * ((wx-ux)/length + cross*uy/l3)
	dbx = s * (wy/length - cross*ux/l3)
	dby = s * (-wx/length - cross*uy/l3)
	return dax, day, dbx, dby
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
