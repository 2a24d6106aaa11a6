package models

import "time"

// Frame is one raw image pulled from the frame source.
// Data holds packed BGR24 pixels, Width*Height*3 bytes.
type Frame struct {
	Sequence  uint64
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// Bytes returns the expected buffer size for the frame dimensions.
func (f *Frame) Bytes() int {
	return f.Width * f.Height * 3
}

// ModelInput is a frame prepared for the detection model: resized to the
// model's input resolution and encoded.
type ModelInput struct {
	FrameSequence uint64
	Data          []byte
	Encoding      string
	Width         int
	Height        int
	SourceWidth   int
	SourceHeight  int
}
