package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrUnknownClass is returned when a class table names a label outside
// the supported ObjectClass set.
var ErrUnknownClass = errors.New("unknown object class")

// ObjectClass is the closed set of labels the detector can emit
type ObjectClass string

const (
	ClassPerson            ObjectClass = "person"
	ClassFighting          ObjectClass = "fighting"
	ClassPunching          ObjectClass = "punching"
	ClassKicking           ObjectClass = "kicking"
	ClassWeapon            ObjectClass = "weapon"
	ClassKnife             ObjectClass = "knife"
	ClassGun               ObjectClass = "gun"
	ClassAggressiveGesture ObjectClass = "aggressive_gesture"
	ClassFallenPerson      ObjectClass = "fallen_person"
	ClassGroupViolence     ObjectClass = "group_violence"
)

// AllClasses lists every ObjectClass in default model index order
var AllClasses = []ObjectClass{
	ClassPerson,
	ClassFighting,
	ClassPunching,
	ClassKicking,
	ClassWeapon,
	ClassKnife,
	ClassGun,
	ClassAggressiveGesture,
	ClassFallenPerson,
	ClassGroupViolence,
}

func (c ObjectClass) String() string {
	return string(c)
}

// ParseObjectClass maps a label onto the closed class set. Labels are
// matched case-insensitively with spaces and dashes treated as underscores.
func ParseObjectClass(label string) (ObjectClass, error) {
	norm := strings.ToLower(strings.TrimSpace(label))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	for _, c := range AllClasses {
		if string(c) == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownClass, label)
}

// ClassTable maps model output indices to object classes.
type ClassTable struct {
	classes []ObjectClass
}

// NewClassTable builds a table from labels ordered by model index.
// Every label must name a known ObjectClass.
func NewClassTable(labels []string) (*ClassTable, error) {
	if len(labels) == 0 {
		return nil, errors.New("class table is empty")
	}
	classes := make([]ObjectClass, len(labels))
	for i, label := range labels {
		c, err := ParseObjectClass(label)
		if err != nil {
			return nil, fmt.Errorf("class index %d: %w", i, err)
		}
		classes[i] = c
	}
	return &ClassTable{classes: classes}, nil
}

// DefaultClassTable returns the ten-class violence detection table.
func DefaultClassTable() *ClassTable {
	classes := make([]ObjectClass, len(AllClasses))
	copy(classes, AllClasses)
	return &ClassTable{classes: classes}
}

// Lookup returns the class for a model index.
func (t *ClassTable) Lookup(id int) (ObjectClass, bool) {
	if t == nil || id < 0 || id >= len(t.classes) {
		return "", false
	}
	return t.classes[id], true
}

// Len returns the number of mapped indices.
func (t *ClassTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.classes)
}

// BoundingBox is an axis-aligned box in pixel coordinates (x1,y1)-(x2,y2)
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b BoundingBox) Width() float64  { return b.X2 - b.X1 }
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// Center returns the box midpoint
func (b BoundingBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Diagonal returns the length of the box diagonal
func (b BoundingBox) Diagonal() float64 {
	return math.Hypot(b.Width(), b.Height())
}

// RawPrediction is one entry returned by the detection model, with the box
// expressed in model input coordinates.
type RawPrediction struct {
	ClassID    int         `json:"class_id"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"bbox"`
}

// DetectedObject is a post-processed detection in frame coordinates
type DetectedObject struct {
	Class      ObjectClass `json:"class"`
	ClassID    int         `json:"class_id"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"bbox"`
}

// DetectionSet holds the detections of one processed frame
type DetectionSet struct {
	Objects     []DetectedObject `json:"objects"`
	FrameWidth  int              `json:"frame_width"`
	FrameHeight int              `json:"frame_height"`
	CapturedAt  time.Time        `json:"captured_at"`
}

// Count returns the number of objects of the given class
func (d DetectionSet) Count(class ObjectClass) int {
	n := 0
	for _, obj := range d.Objects {
		if obj.Class == class {
			n++
		}
	}
	return n
}

// ProcessedFrame is the unit placed on the result queue
type ProcessedFrame struct {
	Frame            *Frame
	Detections       DetectionSet
	Timestamp        time.Time
	ViolenceDetected bool
	ViolenceScores   []float64
	HasWeapons       bool
}
