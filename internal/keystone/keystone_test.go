package keystone

import "testing"

func TestIdentityMatrixIsIdentityTransform(t *testing.T) {
	c := Identity()
	m := c.Matrix()

	// Mapping quadVertices' own [-1,1] corners through the matrix should
	// reproduce the same corners exactly, i.e. the identity transform —
	// the round-trip law in §8 ("keystone identity corners produce a
	// draw pixel-identical to the non-keystoned path"). This is the
	// actual domain the vertex shader feeds u_keystone, not [0,1]^2.
	want := [4]Point{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
	uv := want

	for i, p := range uv {
		x, y, w := m[0]*p.X+m[3]*p.Y+m[6], m[1]*p.X+m[4]*p.Y+m[7], m[2]*p.X+m[5]*p.Y+m[8]
		if w == 0 {
			t.Fatalf("corner %d: degenerate w=0", i)
		}
		gx, gy := x/w, y/w
		if diff(gx, want[i].X) > 1e-4 || diff(gy, want[i].Y) > 1e-4 {
			t.Fatalf("corner %d: got (%v,%v), want (%v,%v)", i, gx, gy, want[i].X, want[i].Y)
		}
	}
}

func diff(a, b float32) float32 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestNudgeClampsNonDegenerate(t *testing.T) {
	c := Identity()
	// Try to drag the top-left corner far past the top-right corner.
	for i := 0; i < 100; i++ {
		c.Nudge(TopLeft, 0.5, 0)
	}
	pts := c.Points()
	if pts[TopLeft].X >= pts[TopRight].X {
		t.Fatalf("corners crossed: TL.X=%v TR.X=%v", pts[TopLeft].X, pts[TopRight].X)
	}
}

func TestNudgeClampsToScreenBounds(t *testing.T) {
	c := Identity()
	c.Nudge(BottomRight, 5, 5)
	pts := c.Points()
	if pts[BottomRight].X > clampBound || pts[BottomRight].Y > clampBound {
		t.Fatalf("corner escaped screen bounds: %+v", pts[BottomRight])
	}
}

func TestReset(t *testing.T) {
	c := Identity()
	c.Nudge(TopLeft, 0.2, 0.1)
	c.Reset()
	pts := c.Points()
	if pts[TopLeft] != (Point{-1, -1}) {
		t.Fatalf("Reset did not restore identity corners, got %+v", pts[TopLeft])
	}
}
