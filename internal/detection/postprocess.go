/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package detection

import (
	"sort"

	"github.com/chewxy/math32"
)

// Unlimited disables the MaxResults cap.
const Unlimited = 0

// Options filter and cap postprocessed results.
type Options struct {
	MinConfidence float32 `json:"min_confidence" yaml:"min_confidence"`
	// MaxResults <= 0 keeps every candidate above MinConfidence.
	MaxResults int `json:"max_results" yaml:"max_results"`
}

var (
	// TopThree keeps the three best detections at or above 50%.
	TopThree = Options{MinConfidence: 0.5, MaxResults: 3}
	// Classification keeps every label at or above 50%.
	Classification = Options{MinConfidence: 0.5, MaxResults: Unlimited}
)

// Postprocess turns raw model output into detections sorted by confidence,
// highest first. Equal confidences keep their output order. Malformed input
// is clamped, never rejected, and the result is never nil.
func Postprocess(raw RawOutput, labels Labels, opts Options) []Detection {
	var out []Detection
	switch raw.Kind {
	case KindClassification:
		out = make([]Detection, 0, len(raw.Scores))
		for i, score := range raw.Scores {
			if !keep(score, opts.MinConfidence) {
				continue
			}
			out = append(out, Detection{Label: labels.Lookup(i), Confidence: score, ClassIndex: i})
		}
	default:
		set := raw.Detections
		count := set.ValidCount()
		out = make([]Detection, 0, count)
		for i := 0; i < count; i++ {
			score := set.Scores[i]
			if !keep(score, opts.MinConfidence) {
				continue
			}
			b := set.Boxes[i]
			class := set.ClassIndices[i]
			out = append(out, Detection{
				Label:      labels.Lookup(class),
				Confidence: score,
				ClassIndex: class,
				Box:        &Box{YMin: b[0], XMin: b[1], YMax: b[2], XMax: b[3]},
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if opts.MaxResults > 0 && len(out) > opts.MaxResults {
		out = out[:opts.MaxResults]
	}
	return out
}

func keep(score, min float32) bool {
	return !math32.IsNaN(score) && score >= min
}
