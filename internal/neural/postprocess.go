package neural

import (
	"sort"

	"github.com/fairway-data/launch.report/internal/monitoring"
)

// Box is an axis-aligned detection box in input-image coordinates.
type Box struct {
	X, Y, W, H float64
}

// Detection is one thresholded, NMS-surviving model prediction.
type Detection struct {
	Box        Box
	Confidence float64
	ClassID    int
}

// PredictionCount returns P for a (width, height) input: the sum of grid
// cells at strides 8, 16 and 32.
func PredictionCount(width, height int) int {
	return (width/8)*(height/8) + (width/16)*(height/16) + (width/32)*(height/32)
}

// decodeOutput reads the channel-first output tensor [1, 4+C, P]: channels
// 0..3 are cx, cy, w, h; confidence is channel 4 (single class) or the max
// over channels 4..4+C. Boxes are inverse-letterboxed back into input
// coordinates and thresholded on confidence.
func decodeOutput(output []float32, width, height, numClasses int, singleClass bool, confThreshold float64, lb Letterbox) []Detection {
	numPredictions := PredictionCount(width, height)
	dataWidth := 4 + numClasses
	if singleClass {
		dataWidth = 5
	}

	if expected := numPredictions * dataWidth; len(output) != expected {
		monitoring.Logf("neural: output size mismatch: expected %d, got %d; clamping", expected, len(output))
		if safe := len(output) / dataWidth; safe < numPredictions {
			numPredictions = safe
		}
	}

	at := func(channel, i int) float64 {
		return float64(output[channel*numPredictions+i])
	}

	var detections []Detection
	for i := 0; i < numPredictions; i++ {
		cx, cy := at(0, i), at(1, i)
		w, h := at(2, i), at(3, i)

		confidence := 0.0
		classID := 0
		if singleClass {
			confidence = at(4, i)
		} else {
			for c := 0; c < numClasses; c++ {
				if score := at(4+c, i); score > confidence {
					confidence = score
					classID = c
				}
			}
		}
		if confidence < confThreshold {
			continue
		}

		cxOrig, cyOrig := lb.Inverse(cx, cy)
		wOrig := w / lb.Scale
		hOrig := h / lb.Scale

		detections = append(detections, Detection{
			Box: Box{
				X: cxOrig - wOrig/2,
				Y: cyOrig - hOrig/2,
				W: wOrig,
				H: hOrig,
			},
			Confidence: confidence,
			ClassID:    classID,
		})
	}
	return detections
}

// NonMaxSuppression orders detections by descending confidence and drops
// any detection overlapping a surviving same-class detection above the IoU
// threshold.
func NonMaxSuppression(detections []Detection, iouThreshold float64) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sorted := make([]Detection, len(detections))
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	suppressed := make([]bool, len(sorted))
	var result []Detection
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		result = append(result, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[i].ClassID != sorted[j].ClassID {
				continue
			}
			if IoU(sorted[i].Box, sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return result
}

// IoU computes intersection-over-union of two boxes.
func IoU(a, b Box) float64 {
	x0 := maxF(a.X, b.X)
	y0 := maxF(a.Y, b.Y)
	x1 := minF(a.X+a.W, b.X+b.W)
	y1 := minF(a.Y+a.H, b.Y+b.H)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	inter := (x1 - x0) * (y1 - y0)
	union := a.W*a.H + b.W*b.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
