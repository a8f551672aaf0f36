/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package assets

import (
	"strings"

	"github.com/pkg/errors"
)

// Mode selects where Select looks for assets.
type Mode string

const (
	// ModeAuto prefers an installed pack and falls back to the bundled assets.
	ModeAuto    Mode = "auto"
	ModeBundled Mode = "bundled"
	ModePack    Mode = "pack"
)

// ParseMode accepts auto, bundled or pack. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeBundled, ModePack:
		return m, nil
	}
	return "", errors.Errorf("unknown asset mode %q", s)
}

// Select picks the source for mode. It does not check that the chosen
// source is available unless mode is auto.
func Select(mode Mode, bundled, pack Source) (Source, error) {
	switch mode {
	case ModeBundled:
		if bundled == nil {
			return nil, errors.Wrap(ErrNotAvailable, "no bundled assets configured")
		}
		return bundled, nil
	case ModePack:
		if pack == nil {
			return nil, errors.Wrap(ErrNotAvailable, "no asset pack configured")
		}
		return pack, nil
	case ModeAuto, "":
		if pack != nil && pack.Available() {
			return pack, nil
		}
		if bundled != nil {
			return bundled, nil
		}
		if pack != nil {
			return pack, nil
		}
		return nil, errors.Wrap(ErrNotAvailable, "no asset source configured")
	}
	return nil, errors.Errorf("unknown asset mode %q", mode)
}
