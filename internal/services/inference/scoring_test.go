package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-edge-go/internal/models"
)

func obj(class models.ObjectClass, conf float64, x1, y1, x2, y2 float64) models.DetectedObject {
	return models.DetectedObject{
		Class:      class,
		Confidence: conf,
		Box:        models.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
	}
}

func TestScoreEmptyIsNotViolent(t *testing.T) {
	a := Score(nil, 0.7)
	assert.False(t, a.Violent)
	assert.Empty(t, a.Scores)
}

func TestScoreBenignObjectsAreNotViolent(t *testing.T) {
	objects := []models.DetectedObject{
		obj(models.ClassPerson, 0.9, 0, 0, 10, 10),
		obj(models.ClassPerson, 0.9, 200, 200, 210, 210),
		obj(models.ClassFallenPerson, 0.95, 50, 50, 80, 60),
	}
	a := Score(objects, 0.7)
	assert.False(t, a.Violent)
	assert.Empty(t, a.Scores)
	assert.False(t, a.HasWeapons)
}

func TestScoreWeaponOverridesThreshold(t *testing.T) {
	objects := []models.DetectedObject{obj(models.ClassKnife, 0.51, 10, 10, 20, 20)}

	for _, threshold := range []float64{0.1, 0.7, 0.99} {
		a := Score(objects, threshold)
		assert.True(t, a.Violent, "threshold %v", threshold)
		assert.True(t, a.HasWeapons)
		assert.Equal(t, []float64{0.51}, a.Scores)
	}
}

func TestScoreViolenceClassAgainstThreshold(t *testing.T) {
	low := Score([]models.DetectedObject{obj(models.ClassPunching, 0.65, 0, 0, 5, 5)}, 0.7)
	assert.False(t, low.Violent)
	assert.Equal(t, []float64{0.65}, low.Scores)

	high := Score([]models.DetectedObject{obj(models.ClassFighting, 0.71, 0, 0, 5, 5)}, 0.7)
	assert.True(t, high.Violent)

	equal := Score([]models.DetectedObject{obj(models.ClassKicking, 0.7, 0, 0, 5, 5)}, 0.7)
	assert.False(t, equal.Violent, "the threshold comparison is strict")
}

func TestScoreClosePeopleAddSuspicion(t *testing.T) {
	// centers (10,10) and (12,12): 2.83 apart, 0.1 of either box's diagonal
	objects := []models.DetectedObject{
		obj(models.ClassPerson, 0.8, 0, 0, 20, 20),
		obj(models.ClassPerson, 0.8, 2, 2, 22, 22),
	}

	a := Score(objects, 0.7)
	require.NotEmpty(t, a.Scores)
	for _, s := range a.Scores {
		assert.Equal(t, ProximityScore, s)
	}
	assert.Len(t, a.Scores, 2, "each ordered pair contributes")
	assert.False(t, a.Violent, "0.6 does not exceed 0.7")

	assert.True(t, Score(objects, 0.5).Violent)
}

func TestScoreProximityUsesFirstBoxDiagonal(t *testing.T) {
	// small box centered at (11,11), large box centered at (12,12):
	// relative to the small box 0.5 apart, relative to the large one 0.04
	objects := []models.DetectedObject{
		obj(models.ClassPerson, 0.9, 10, 10, 12, 12),
		obj(models.ClassPerson, 0.9, 0, 0, 24, 24),
	}
	a := Score(objects, 0.5)
	assert.Equal(t, []float64{ProximityScore}, a.Scores)
	assert.True(t, a.Violent)
}

func TestScoreIgnoresDegenerateBoxes(t *testing.T) {
	objects := []models.DetectedObject{
		obj(models.ClassPerson, 0.9, 5, 5, 5, 5),
		obj(models.ClassPerson, 0.9, 5, 5, 5, 5),
	}
	a := Score(objects, 0.5)
	assert.Empty(t, a.Scores)
	assert.False(t, a.Violent)
}

func TestScoreOrderFollowsObjects(t *testing.T) {
	objects := []models.DetectedObject{
		obj(models.ClassGun, 0.9, 0, 0, 5, 5),
		obj(models.ClassGroupViolence, 0.4, 0, 0, 5, 5),
		obj(models.ClassWeapon, 0.3, 0, 0, 5, 5),
	}
	a := Score(objects, 0.7)
	assert.Equal(t, []float64{0.9, 0.4, 0.3}, a.Scores)
	assert.Equal(t, 0.9, a.MaxScore())
	assert.True(t, a.Violent)
}

func TestClassSets(t *testing.T) {
	assert.True(t, IsViolenceClass(models.ClassAggressiveGesture))
	assert.False(t, IsViolenceClass(models.ClassFallenPerson))
	assert.True(t, IsWeaponClass(models.ClassGun))
	assert.False(t, IsWeaponClass(models.ClassPerson))
}
