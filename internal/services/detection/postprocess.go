package detection

import (
	"math"

	"sentinel-edge-go/internal/models"
)

// PostProcessResult is a DetectionSet's object list plus what was filtered
type PostProcessResult struct {
	Objects    []models.DetectedObject
	BelowFloor int
	UnknownIDs int
}

// PostProcess keeps predictions with confidence strictly above floor, maps
// class indices through table and rescales boxes from the model input
// resolution to the frame resolution.
func PostProcess(preds []models.RawPrediction, table *models.ClassTable, floor float64, input *models.ModelInput, frameW, frameH int) PostProcessResult {
	sx, sy := 1.0, 1.0
	if input != nil && input.Width > 0 && input.Height > 0 {
		sx = float64(frameW) / float64(input.Width)
		sy = float64(frameH) / float64(input.Height)
	}

	var res PostProcessResult
	for _, p := range preds {
		if !(p.Confidence > floor) {
			res.BelowFloor++
			continue
		}
		class, ok := table.Lookup(p.ClassID)
		if !ok {
			res.UnknownIDs++
			continue
		}

		box := models.BoundingBox{
			X1: clamp(p.Box.X1*sx, float64(frameW)),
			Y1: clamp(p.Box.Y1*sy, float64(frameH)),
			X2: clamp(p.Box.X2*sx, float64(frameW)),
			Y2: clamp(p.Box.Y2*sy, float64(frameH)),
		}
		res.Objects = append(res.Objects, models.DetectedObject{
			Class:      class,
			ClassID:    p.ClassID,
			Confidence: math.Min(p.Confidence, 1),
			Box:        box,
		})
	}
	return res
}

func clamp(v, upper float64) float64 {
	if v < 0 {
		return 0
	}
	if upper > 0 && v > upper {
		return upper
	}
	return v
}
