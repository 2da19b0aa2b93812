package vision

import (
	"math"
	"sort"
)

// circleCandidate is an unscored Hough hit.
type circleCandidate struct {
	cx, cy  int
	radius  float64
	votes   int
	support float64 // fraction of the perimeter backed by edge points
}

// sobel computes per-pixel gradient components for a luma plane.
func sobel(gray []uint8, w, h int) (gx, gy []float64) {
	gx = make([]float64, w*h)
	gy = make([]float64, w*h)
	at := func(x, y int) float64 { return float64(gray[y*w+x]) }
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			gx[i] = -at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1) +
				at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)
			gy[i] = -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) +
				at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
		}
	}
	return gx, gy
}

// houghCircles runs a two-stage gradient Hough: centres are voted along the
// gradient direction of every edge point, then each centre's radius is read
// off a distance histogram of the supporting edge points.
func houghCircles(gray []uint8, w, h int, minR, maxR int, edgeThreshold float64, maxCandidates int) []circleCandidate {
	if minR < 2 {
		minR = 2
	}
	if maxR <= minR || w < 2*minR || h < 2*minR {
		return nil
	}

	gx, gy := sobel(gray, w, h)

	type edgePoint struct{ x, y int }
	var edges []edgePoint

	acc := make([]int32, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			mag := math.Hypot(gx[i], gy[i])
			if mag < edgeThreshold {
				continue
			}
			edges = append(edges, edgePoint{x, y})
			ux, uy := gx[i]/mag, gy[i]/mag
			// Vote along both gradient senses: the centre is up-gradient
			// for light balls on dark ground and down-gradient otherwise.
			for _, sign := range []float64{1, -1} {
				for r := minR; r <= maxR; r++ {
					cx := x + int(math.Round(sign*ux*float64(r)))
					cy := y + int(math.Round(sign*uy*float64(r)))
					if cx < 0 || cy < 0 || cx >= w || cy >= h {
						break
					}
					acc[cy*w+cx]++
				}
			}
		}
	}
	if len(edges) == 0 {
		return nil
	}

	// Peak pick with a separation of minR between accepted centres.
	type peak struct {
		x, y  int
		votes int32
	}
	var peaks []peak
	minVotes := int32(minR) // a supported circle votes many times per edge point
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := acc[y*w+x]
			if v < minVotes {
				continue
			}
			peaks = append(peaks, peak{x, y, v})
		}
	}
	sort.Slice(peaks, func(i, j int) bool { return peaks[i].votes > peaks[j].votes })

	var centres []peak
	for _, p := range peaks {
		ok := true
		for _, c := range centres {
			dx, dy := float64(p.x-c.x), float64(p.y-c.y)
			if math.Hypot(dx, dy) < float64(minR) {
				ok = false
				break
			}
		}
		if ok {
			centres = append(centres, p)
			if len(centres) >= maxCandidates {
				break
			}
		}
	}

	// Stage two: radius from the distance histogram of edge points.
	var out []circleCandidate
	for _, c := range centres {
		hist := make([]int, maxR+2)
		for _, e := range edges {
			d := math.Hypot(float64(e.x-c.x), float64(e.y-c.y))
			r := int(math.Round(d))
			if r >= minR && r <= maxR {
				hist[r]++
			}
		}
		bestR, bestN := 0, 0
		for r := minR; r <= maxR; r++ {
			if hist[r] > bestN {
				bestR, bestN = r, hist[r]
			}
		}
		if bestR == 0 {
			continue
		}
		perimeter := 2 * math.Pi * float64(bestR)
		out = append(out, circleCandidate{
			cx:      c.x,
			cy:      c.y,
			radius:  float64(bestR),
			votes:   bestN,
			support: math.Min(1, float64(bestN)/perimeter),
		})
	}
	return out
}
