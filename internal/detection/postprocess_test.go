package detection

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boxes(n int) [][4]float32 {
	out := make([][4]float32, n)
	for i := range out {
		f := float32(i) / 100
		out[i] = [4]float32{f, f, 0.5 + f, 0.5 + f}
	}
	return out
}

func indices(dets []Detection) []int {
	out := make([]int, len(dets))
	for i, d := range dets {
		out[i] = d.ClassIndex
	}
	return out
}

func TestPostprocessFiltersAndSorts(t *testing.T) {
	raw := DetectionOutput(RawDetectionSet{
		Boxes:        boxes(3),
		ClassIndices: []int{0, 1, 2},
		Scores:       []float32{0.9, 0.3, 0.6},
		Count:        3,
	})
	got := Postprocess(raw, Labels{"a", "b", "c"}, TopThree)
	require.Len(t, got, 2)
	assert.Equal(t, []int{0, 2}, indices(got))
	assert.Equal(t, "a", got[0].Label)
	assert.Equal(t, "c", got[1].Label)
	b := boxes(3)[2]
	assert.Equal(t, &Box{YMin: b[0], XMin: b[1], YMax: b[2], XMax: b[3]}, got[1].Box)
}

func TestPostprocessMaxResults(t *testing.T) {
	raw := DetectionOutput(RawDetectionSet{
		Boxes:        boxes(5),
		ClassIndices: []int{0, 1, 2, 3, 4},
		Scores:       []float32{0.7, 0.95, 0.8, 0.6, 0.99},
		Count:        5,
	})
	assert.Equal(t, []int{4, 1, 2}, indices(Postprocess(raw, nil, TopThree)))
	assert.Equal(t, []int{4, 1, 2, 0, 3}, indices(Postprocess(raw, nil, Options{MinConfidence: 0.5})))
	assert.Equal(t, []int{4, 1, 2, 0, 3}, indices(Postprocess(raw, nil, Options{MinConfidence: 0.5, MaxResults: -1})))
	assert.Empty(t, Postprocess(raw, nil, Options{MinConfidence: 1}))
}

func TestPostprocessCountClampedToCapacity(t *testing.T) {
	raw := DetectionOutput(RawDetectionSet{
		Boxes:        boxes(2),
		ClassIndices: []int{0, 1, 1},
		Scores:       []float32{0.9, 0.8, 0.7, 0.6},
		Count:        50,
	})
	got := Postprocess(raw, Labels{"x", "y"}, Options{})
	assert.Equal(t, []int{0, 1}, indices(got))

	raw.Detections.Count = -4
	assert.Empty(t, Postprocess(raw, nil, Options{}))
	assert.NotNil(t, Postprocess(raw, nil, Options{}))
}

func TestPostprocessCountLimitsSlots(t *testing.T) {
	raw := DetectionOutput(RawDetectionSet{
		Boxes:        boxes(4),
		ClassIndices: []int{0, 1, 2, 3},
		Scores:       []float32{0.6, 0.7, 0.8, 0.9},
		Count:        2,
	})
	assert.Equal(t, []int{1, 0}, indices(Postprocess(raw, nil, TopThree)))
}

func TestPostprocessUnknownLabel(t *testing.T) {
	raw := DetectionOutput(RawDetectionSet{
		Boxes:        boxes(3),
		ClassIndices: []int{7, -1, 1},
		Scores:       []float32{0.9, 0.8, 0.7},
		Count:        3,
	})
	got := Postprocess(raw, Labels{"person", "bicycle"}, TopThree)
	require.Len(t, got, 3)
	assert.Equal(t, UnknownLabel, got[0].Label)
	assert.Equal(t, 7, got[0].ClassIndex)
	assert.Equal(t, UnknownLabel, got[1].Label)
	assert.Equal(t, "bicycle", got[2].Label)
}

func TestPostprocessTiesKeepOutputOrder(t *testing.T) {
	raw := DetectionOutput(RawDetectionSet{
		Boxes:        boxes(4),
		ClassIndices: []int{3, 1, 2, 0},
		Scores:       []float32{0.7, 0.9, 0.7, 0.7},
		Count:        4,
	})
	first := Postprocess(raw, nil, Options{})
	assert.Equal(t, []int{1, 3, 2, 0}, indices(first))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Postprocess(raw, nil, Options{}))
	}
}

func TestPostprocessDropsNaN(t *testing.T) {
	raw := DetectionOutput(RawDetectionSet{
		Boxes:        boxes(3),
		ClassIndices: []int{0, 1, 2},
		Scores:       []float32{math32.NaN(), 0.8, math32.NaN()},
		Count:        3,
	})
	assert.Equal(t, []int{1}, indices(Postprocess(raw, nil, Options{})))
}

func TestPostprocessClassification(t *testing.T) {
	raw := ClassificationOutput([]float32{0.1, 0.75, 0.5, 0.9, 0.49})
	got := Postprocess(raw, Labels{"a", "b", "c", "d", "e"}, Classification)
	require.Len(t, got, 3)
	assert.Equal(t, []int{3, 1, 2}, indices(got))
	assert.Equal(t, "d", got[0].Label)
	for _, d := range got {
		assert.Nil(t, d.Box)
	}
}

func TestNewRawDetectionSet(t *testing.T) {
	set := NewRawDetectionSet(
		[]float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9},
		[]float32{2.9, 0, math32.NaN()},
		[]float32{0.5, 0.6},
		3.7,
	)
	assert.Equal(t, [][4]float32{{0.1, 0.2, 0.3, 0.4}, {0.5, 0.6, 0.7, 0.8}}, set.Boxes)
	assert.Equal(t, []int{2, 0, -1}, set.ClassIndices)
	assert.Equal(t, 3, set.Count)
	assert.Equal(t, 2, set.Capacity())
	assert.Equal(t, 2, set.ValidCount())

	assert.Equal(t, -1, NewRawDetectionSet(nil, nil, nil, math32.Inf(1)).Count)
	assert.Equal(t, 0, NewRawDetectionSet(nil, nil, nil, math32.Inf(1)).ValidCount())
}

func TestOutputKindString(t *testing.T) {
	assert.Equal(t, "detection", KindDetection.String())
	assert.Equal(t, "classification", KindClassification.String())
	assert.Equal(t, "OutputKind(5)", OutputKind(5).String())
}
