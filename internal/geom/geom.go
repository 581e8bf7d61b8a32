// Package geom provides the small set of planar geometry primitives used by
// the crossing engine: bounding boxes, centroids, and line-side and
// segment-intersection tests. All functions are pure; coordinates are pixel
// units in the image plane.
package geom

// Point is a position in the image plane.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Line is the counting line, directed from Start to End. The direction fixes
// which cross-product sign corresponds to which side.
type Line struct {
	Start Point `json:"start"`
	End   Point `json:"end"`
}

// BBox is an axis-aligned bounding box in (x_min, y_min, x_max, y_max) form,
// as produced by the external detector.
type BBox struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Valid reports whether the box has positive extent on both axes. Degenerate
// boxes are rejected at the frame-processing boundary.
func (b BBox) Valid() bool {
	return b.XMax > b.XMin && b.YMax > b.YMin
}

// Centroid returns the arithmetic mean of the box's opposite corners.
func (b BBox) Centroid() Point {
	return Point{
		X: (b.XMin + b.XMax) / 2,
		Y: (b.YMin + b.YMax) / 2,
	}
}

// SideOfLine returns the cross product of the line direction with the vector
// from the line start to p. The sign indicates which side of the (infinite)
// line p lies on; zero means exactly on the line.
func SideOfLine(p Point, l Line) float64 {
	return (l.End.X-l.Start.X)*(p.Y-l.Start.Y) - (l.End.Y-l.Start.Y)*(p.X-l.Start.X)
}

// cross returns the cross product of (b-a) with (c-a).
func cross(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// onSegment reports whether c, known to be collinear with a and b, lies within
// the bounding extent of segment ab.
func onSegment(a, b, c Point) bool {
	return min(a.X, b.X) <= c.X && c.X <= max(a.X, b.X) &&
		min(a.Y, b.Y) <= c.Y && c.Y <= max(a.Y, b.Y)
}

// SegmentsIntersect reports whether the path segment from p1 to p2 crosses the
// line segment l. A sign change alone is not enough to credit a crossing: the
// motion must pass through the drawn segment's span, which rejects boxes that
// jitter past the line beyond its endpoints.
func SegmentsIntersect(p1, p2 Point, l Line) bool {
	d1 := cross(l.Start, l.End, p1)
	d2 := cross(l.Start, l.End, p2)
	d3 := cross(p1, p2, l.Start)
	d4 := cross(p1, p2, l.End)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	// Collinear touch cases: an endpoint lies exactly on the other segment.
	if d1 == 0 && onSegment(l.Start, l.End, p1) {
		return true
	}
	if d2 == 0 && onSegment(l.Start, l.End, p2) {
		return true
	}
	if d3 == 0 && onSegment(p1, p2, l.Start) {
		return true
	}
	if d4 == 0 && onSegment(p1, p2, l.End) {
		return true
	}
	return false
}
