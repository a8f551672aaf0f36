/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package detection

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
)

// DefaultCapacity is the number of detection slots of the bundled SSD model.
const DefaultCapacity = 10

// RawDetectionSet holds the four SSD output tensors after conversion.
type RawDetectionSet struct {
	// Boxes are ymin, xmin, ymax, xmax in normalized coordinates.
	Boxes        [][4]float32
	ClassIndices []int
	Scores       []float32
	// Count is the number of valid slots reported by the model. It is not trusted.
	Count int
}

// Capacity is the number of slots all three arrays can serve.
func (r RawDetectionSet) Capacity() int {
	n := len(r.Boxes)
	if len(r.ClassIndices) < n {
		n = len(r.ClassIndices)
	}
	if len(r.Scores) < n {
		n = len(r.Scores)
	}
	return n
}

// ValidCount clamps Count to [0, Capacity].
func (r RawDetectionSet) ValidCount() int {
	n := r.Count
	if n < 0 {
		return 0
	}
	if c := r.Capacity(); n > c {
		return c
	}
	return n
}

// NewRawDetectionSet converts flat SSD tensors: locations as groups of four,
// classes and count stored as floats.
func NewRawDetectionSet(locations, classes, scores []float32, count float32) RawDetectionSet {
	set := RawDetectionSet{
		Boxes:        make([][4]float32, len(locations)/4),
		ClassIndices: make([]int, len(classes)),
		Scores:       append([]float32(nil), scores...),
		Count:        floatToIndex(count),
	}
	for i := range set.Boxes {
		copy(set.Boxes[i][:], locations[4*i:4*i+4])
	}
	for i, c := range classes {
		set.ClassIndices[i] = floatToIndex(c)
	}
	return set
}

// floatToIndex truncates v, mapping NaN and out-of-range values to -1.
func floatToIndex(v float32) int {
	if math32.IsNaN(v) || v > math.MaxInt32 || v < math.MinInt32 {
		return -1
	}
	return int(v)
}

// OutputKind tags which output convention a model uses.
type OutputKind int

const (
	// KindDetection is the SSD convention: boxes, classes, scores, count.
	KindDetection OutputKind = iota
	// KindClassification is a single score per label.
	KindClassification
)

func (k OutputKind) String() string {
	switch k {
	case KindDetection:
		return "detection"
	case KindClassification:
		return "classification"
	}
	return fmt.Sprintf("OutputKind(%d)", int(k))
}

// RawOutput is the tagged result of one inference call.
type RawOutput struct {
	Kind       OutputKind
	Detections RawDetectionSet
	// Scores is set for KindClassification; index i is class i.
	Scores []float32
}

// DetectionOutput wraps an SSD result.
func DetectionOutput(set RawDetectionSet) RawOutput {
	return RawOutput{Kind: KindDetection, Detections: set}
}

// ClassificationOutput wraps a score vector.
func ClassificationOutput(scores []float32) RawOutput {
	return RawOutput{Kind: KindClassification, Scores: scores}
}
