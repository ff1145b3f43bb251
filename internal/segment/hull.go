package segment

import "sort"

type point struct{ x, y float64 }

func cross(o, a, b point) float64 {
	return (a.x-o.x)*(b.y-o.y) - (a.y-o.y)*(b.x-o.x)
}

// convexHullMask returns the pixels whose centres lie inside the convex hull
// of the corners of every set pixel, or nil when no pixel is set.
func convexHullMask(mask []bool, rows, cols int) []bool {
	var pts []point
	for r := range rows {
		first, last := -1, -1
		for c := range cols {
			if mask[r*cols+c] {
				if first < 0 {
					first = c
				}
				last = c
			}
		}
		if first < 0 {
			continue
		}
		y := float64(r)
		for _, x := range []float64{float64(first) - 0.5, float64(last) + 0.5} {
			pts = append(pts, point{x, y - 0.5}, point{x, y + 0.5})
		}
	}
	if len(pts) == 0 {
		return nil
	}

	hull := monotoneChain(pts)
	out := make([]bool, rows*cols)
	for r := range rows {
		for c := range cols {
			out[r*cols+c] = inside(hull, point{float64(c), float64(r)})
		}
	}
	return out
}

// monotoneChain returns the hull vertices in counter-clockwise order.
func monotoneChain(pts []point) []point {
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].x != pts[j].x {
			return pts[i].x < pts[j].x
		}
		return pts[i].y < pts[j].y
	})

	hull := make([]point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// inside reports whether p lies in the counter-clockwise polygon, edges
// included.
func inside(hull []point, p point) bool {
	const eps = 1e-10
	for i := range hull {
		a, b := hull[i], hull[(i+1)%len(hull)]
		if cross(a, b, p) < -eps {
			return false
		}
	}
	return true
}
