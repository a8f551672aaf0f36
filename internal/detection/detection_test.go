package detection

import (
	"encoding/json"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaption(t *testing.T) {
	tests := []struct {
		det  Detection
		want string
	}{
		{Detection{Label: "cat", Confidence: 0.95}, "cat 95%"},
		{Detection{Label: "dog", Confidence: 0.876}, "dog 88%"},
		{Detection{Label: "Unknown", Confidence: 1}, "Unknown 100%"},
		{Detection{Label: "x", Confidence: 0.5}, "x 50%"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.det.Caption())
	}
}

func TestDetectionString(t *testing.T) {
	d := Detection{Label: "cat", Confidence: 0.5, ClassIndex: 2}
	assert.Equal(t, "cat 50% (class 2)", d.String())
	d.Box = &Box{YMin: 0.1, XMin: 0.2, YMax: 0.3, XMax: 0.4}
	assert.Equal(t, "cat 50% (class 2) [0.100 0.200 0.300 0.400]", d.String())
}

func TestLabelsLookup(t *testing.T) {
	l := Labels{"person", "", "car"}
	assert.Equal(t, "person", l.Lookup(0))
	assert.Equal(t, "", l.Lookup(1))
	assert.Equal(t, "car", l.Lookup(2))
	assert.Equal(t, UnknownLabel, l.Lookup(3))
	assert.Equal(t, UnknownLabel, l.Lookup(-1))
	assert.Equal(t, UnknownLabel, Labels(nil).Lookup(0))
}

func TestBoxPixelRect(t *testing.T) {
	b := Box{YMin: 0.1, XMin: 0.25, YMax: 0.9, XMax: 0.75}
	assert.Equal(t, image.Rect(50, 20, 150, 180), b.PixelRect(200, 200))
}

func TestDetectionJSON(t *testing.T) {
	raw, err := json.Marshal(Detection{Label: "cat", Confidence: 0.5, ClassIndex: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"label":"cat","confidence":0.5,"class_index":1}`, string(raw))

	raw, err = json.Marshal(Detection{Label: "cat", Confidence: 0.5, Box: &Box{XMax: 1, YMax: 1}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"label":"cat","confidence":0.5,"class_index":0,"box":{"ymin":0,"xmin":0,"ymax":1,"xmax":1}}`, string(raw))
}
