package helpers

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"sentinel-edge-go/internal/models"
)

// JPEGEncoder re-encodes BGR frames as JPEG at a fixed quality
type JPEGEncoder struct {
	Quality int
}

// Encode returns the frame as JPEG bytes
func (e JPEGEncoder) Encode(frame *models.Frame) ([]byte, error) {
	mat, err := frameToMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	return encodeJPEG(mat, e.Quality)
}

// ModelInputEncoder resizes frames to the detection model's input
// resolution and JPEG-encodes them
type ModelInputEncoder struct {
	Width   int
	Height  int
	Quality int
}

// Prepare builds the model input for a frame
func (p ModelInputEncoder) Prepare(frame *models.Frame) (*models.ModelInput, error) {
	mat, err := frameToMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(p.Width, p.Height), 0, 0, gocv.InterpolationLinear)

	data, err := encodeJPEG(resized, p.Quality)
	if err != nil {
		return nil, err
	}

	return &models.ModelInput{
		FrameSequence: frame.Sequence,
		Data:          data,
		Encoding:      "jpeg",
		Width:         p.Width,
		Height:        p.Height,
		SourceWidth:   frame.Width,
		SourceHeight:  frame.Height,
	}, nil
}

func frameToMat(frame *models.Frame) (gocv.Mat, error) {
	if frame == nil || len(frame.Data) == 0 {
		return gocv.Mat{}, fmt.Errorf("empty frame data")
	}
	if len(frame.Data) != frame.Bytes() {
		return gocv.Mat{}, fmt.Errorf("frame data size mismatch: got %d bytes, expected %d for %dx%d BGR",
			len(frame.Data), frame.Bytes(), frame.Width, frame.Height)
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to create Mat from BGR data: %w", err)
	}
	return mat, nil
}

func encodeJPEG(mat gocv.Mat, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = 85
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode BGR as JPEG: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases native memory released by Close
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
