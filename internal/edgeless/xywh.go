package edgeless

import "encoding/json"

func xyJSON(p [2]float64) string {
	b, _ := json.Marshal([]float64{p[0], p[1]})
	return string(b)
}

func pointsJSON(pts [][3]float64) string {
	out := make([][]float64, len(pts))
	for i, p := range pts {
		out[i] = []float64{p[0], p[1], p[2]}
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// boundingBoxAndRebase computes the tightest box enclosing points' x/y
// coordinates and returns both the box and a copy of points with x/y
// translated so the box's origin is (0,0).
func boundingBoxAndRebase(points [][3]float64) ([4]float64, [][3]float64) {
	if len(points) == 0 {
		return [4]float64{}, nil
	}
	minX, minY := points[0][0], points[0][1]
	maxX, maxY := points[0][0], points[0][1]
	for _, p := range points {
		if p[0] < minX {
			minX = p[0]
		}
		if p[0] > maxX {
			maxX = p[0]
		}
		if p[1] < minY {
			minY = p[1]
		}
		if p[1] > maxY {
			maxY = p[1]
		}
	}
	box := [4]float64{minX, minY, maxX - minX, maxY - minY}
	rebased := make([][3]float64, len(points))
	for i, p := range points {
		rebased[i] = [3]float64{p[0] - minX, p[1] - minY, p[2]}
	}
	return box, rebased
}
