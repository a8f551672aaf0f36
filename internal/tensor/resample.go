/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package tensor

import (
	"image"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Resampler stretches an image to exactly width x height pixels.
type Resampler interface {
	Resample(img image.Image, width, height int) image.Image
}

// ResamplerFunc adapts a function to the Resampler interface.
type ResamplerFunc func(img image.Image, width, height int) image.Image

// Resample calls f.
func (f ResamplerFunc) Resample(img image.Image, width, height int) image.Image {
	return f(img, width, height)
}

var (
	// Bilinear is the default resampler.
	Bilinear Resampler = ResamplerFunc(func(img image.Image, width, height int) image.Image {
		return resize.Resize(uint(width), uint(height), img, resize.Bilinear)
	})
	// Lanczos trades speed for sharper downscaling.
	Lanczos Resampler = ResamplerFunc(func(img image.Image, width, height int) image.Image {
		return imaging.Resize(img, width, height, imaging.Lanczos)
	})
	// Nearest picks the closest source pixel.
	Nearest Resampler = ResamplerFunc(func(img image.Image, width, height int) image.Image {
		return imaging.Resize(img, width, height, imaging.NearestNeighbor)
	})
)

var (
	resamplersMu sync.RWMutex
	resamplers   = map[string]Resampler{
		"bilinear": Bilinear,
		"lanczos":  Lanczos,
		"nearest":  Nearest,
	}
)

// RegisterResampler makes a resampler selectable by name.
func RegisterResampler(name string, r Resampler) {
	resamplersMu.Lock()
	defer resamplersMu.Unlock()
	resamplers[strings.ToLower(name)] = r
}

// ResamplerByName looks up a registered resampler. An empty name selects Bilinear.
func ResamplerByName(name string) (Resampler, error) {
	if name == "" {
		return Bilinear, nil
	}
	resamplersMu.RLock()
	defer resamplersMu.RUnlock()
	r, ok := resamplers[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf("unknown resampler %q (available: %s)", name, strings.Join(resamplerNamesLocked(), ", "))
	}
	return r, nil
}

// ResamplerNames lists registered resamplers in sorted order.
func ResamplerNames() []string {
	resamplersMu.RLock()
	defer resamplersMu.RUnlock()
	return resamplerNamesLocked()
}

func resamplerNamesLocked() []string {
	names := make([]string, 0, len(resamplers))
	for name := range resamplers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
