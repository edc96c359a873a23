// Package keystone computes the projective ("keystone") correction matrix
// applied to the video quad before it is drawn (§4.6), and holds the four
// corner positions an operator nudges via input events (§6).
package keystone

import "math"

// Point is a position in normalized screen coordinates, [-1, 1] on both
// axes with (0,0) at the screen center.
type Point struct {
	X, Y float32
}

// cornerCount is fixed: top-left, top-right, bottom-right, bottom-left.
const cornerCount = 4

const (
	TopLeft = iota
	TopRight
	BottomRight
	BottomLeft
)

// clampBound is the normalized-coordinate range a corner may occupy.
const clampBound = 1.0

// minSeparation is the smallest allowed distance between adjacent corners
// on either axis, enforced so the quad can never become degenerate or
// self-intersecting (§4.6: "clamped so the quad remains non-degenerate").
const minSeparation = 0.05

// Corners holds the four draggable corner positions and the matrix
// derived from them. The matrix is recomputed only when a corner moves
// (§3 "Keystone state": "Mutated only by input events between frames;
// read-only to the GPU uniform path").
type Corners struct {
	pts   [cornerCount]Point
	mat   [9]float32
	dirty bool
}

// Identity returns the default, unskewed keystone state: corners at the
// four corners of the full screen, matrix equal to the identity transform
// (§6 keystone_initial default).
func Identity() *Corners {
	c := &Corners{
		pts: [cornerCount]Point{
			TopLeft:     {-1, -1},
			TopRight:    {1, -1},
			BottomRight: {1, 1},
			BottomLeft:  {-1, 1},
		},
	}
	c.recompute()
	return c
}

// FromPoints builds a Corners state from four explicit corner positions,
// e.g. a Config.KeystoneInitial supplied by the external launcher (§6).
func FromPoints(pts [4]Point) *Corners {
	c := &Corners{pts: pts}
	c.clampAll()
	c.recompute()
	return c
}

// Nudge moves one corner (0=TL,1=TR,2=BR,3=BL) by (dx, dy) and clamps it to
// keep the quad non-degenerate, per the nudge-corner input event (§6).
func (c *Corners) Nudge(corner int, dx, dy float32) {
	if corner < 0 || corner >= cornerCount {
		return
	}
	p := c.pts[corner]
	p.X += dx
	p.Y += dy
	c.pts[corner] = p
	c.clampAll()
	c.recompute()
}

// Reset restores the identity (unskewed) keystone, per the reset-keystone
// input event (§6).
func (c *Corners) Reset() {
	c.pts = [cornerCount]Point{
		TopLeft:     {-1, -1},
		TopRight:    {1, -1},
		BottomRight: {1, 1},
		BottomLeft:  {-1, 1},
	}
	c.recompute()
}

// Points returns a copy of the current corner positions.
func (c *Corners) Points() [4]Point { return c.pts }

// Matrix returns the cached 3x3 projective matrix, column-major, ready to
// upload as a GLES uniform. It is only recomputed by Nudge/Reset/
// FromPoints, never on the render hot path itself.
func (c *Corners) Matrix() [9]float32 { return c.mat }

func (c *Corners) clampAll() {
	for i := range c.pts {
		if c.pts[i].X > clampBound {
			c.pts[i].X = clampBound
		}
		if c.pts[i].X < -clampBound {
			c.pts[i].X = -clampBound
		}
		if c.pts[i].Y > clampBound {
			c.pts[i].Y = clampBound
		}
		if c.pts[i].Y < -clampBound {
			c.pts[i].Y = -clampBound
		}
	}

	// Enforce left-right and top-bottom ordering with a minimum
	// separation so opposite edges can never cross.
	enforceOrder(&c.pts[TopLeft].X, &c.pts[TopRight].X, minSeparation)
	enforceOrder(&c.pts[BottomLeft].X, &c.pts[BottomRight].X, minSeparation)
	enforceOrder(&c.pts[TopLeft].Y, &c.pts[BottomLeft].Y, minSeparation)
	enforceOrder(&c.pts[TopRight].Y, &c.pts[BottomRight].Y, minSeparation)
}

func enforceOrder(lo, hi *float32, sep float32) {
	if *hi-*lo < sep {
		mid := (*lo + *hi) / 2
		if mid > clampBound-sep/2 {
			mid = clampBound - sep/2
		}
		if mid < -clampBound+sep/2 {
			mid = -clampBound + sep/2
		}
		*lo = mid - sep/2
		*hi = mid + sep/2
	}
}

// recompute derives the 3x3 projective matrix mapping the unit quad
// (0,0)-(1,0)-(1,1)-(0,1) onto the current corner positions, by solving
// the standard 8-unknown homography linear system for a planar
// quadrilateral (the textbook "four point correspondences" construction;
// see e.g. Heckbert's 1989 note on projective mappings), then composes it
// with the affine map from NDC [-1,1]^2 to the unit square. The vertex
// shader's a_position attribute is in [-1,1]^2 (quadVertices), not [0,1]^2,
// so u_keystone must operate on that domain directly. With identity
// corners this still reduces to the identity matrix, satisfying the
// round-trip law in §8 ("Keystone identity corners produce a draw
// pixel-identical to the non-keystoned path").
func (c *Corners) recompute() {
	x0, y0 := c.pts[TopLeft].X, c.pts[TopLeft].Y
	x1, y1 := c.pts[TopRight].X, c.pts[TopRight].Y
	x2, y2 := c.pts[BottomRight].X, c.pts[BottomRight].Y
	x3, y3 := c.pts[BottomLeft].X, c.pts[BottomLeft].Y

	dx1, dx2 := x1-x2, x3-x2
	dy1, dy2 := y1-y2, y3-y2
	sx, sy := x0-x1+x2-x3, y0-y1+y2-y3

	denom := dx1*dy2 - dx2*dy1
	var g, h float32
	if math.Abs(float64(denom)) > 1e-9 {
		g = (sx*dy2 - dx2*sy) / denom
		h = (dx1*sy - sx*dy1) / denom
	}

	a := x1 - x0 + g*x1
	b := x3 - x0 + h*x3
	d := y1 - y0 + g*y1
	e := y3 - y0 + h*y3

	// a,b,x0 / d,e,y0 / g,h,1 is the homography over the [0,1]^2 source
	// domain. Compose on the right with S = [[.5,0,.5],[0,.5,.5],[0,0,1]],
	// the affine map from [-1,1]^2 into [0,1]^2, to get the matrix the
	// shader can apply directly to a_position.
	c.mat = [9]float32{
		0.5 * a, 0.5 * d, 0.5 * g,
		0.5 * b, 0.5 * e, 0.5 * h,
		0.5*(a+b) + x0, 0.5*(d+e) + y0, 0.5*(g+h) + 1,
	}
}
