package scenes

import (
	"errors"
	"fmt"

	"github.com/tesseraeo/tessera-client-go/ndarray"
)

// ErrEmptyCollection is returned by operations that need at least one scene.
var ErrEmptyCollection = errors.New("empty scene collection")

// InconsistentDataTypeError reports bands resolving to more than one pixel
// data type, either across the requested bands of one scene or across the
// scenes of a collection.
type InconsistentDataTypeError struct {
	SceneID  string
	Band     string
	Got      ndarray.DType
	Expected ndarray.DType
}

func (e *InconsistentDataTypeError) Error() string {
	switch {
	case e.Band == "":
		return fmt.Sprintf("scene %s resolves to %s, expected %s as the other scenes", e.SceneID, e.Got, e.Expected)
	case e.SceneID == "":
		return fmt.Sprintf("band '%s' is %s, expected %s as the other bands", e.Band, e.Got, e.Expected)
	}
	return fmt.Sprintf("band '%s' of scene %s is %s, expected %s", e.Band, e.SceneID, e.Got, e.Expected)
}

// UnsupportedAxisError reports a bands-axis placement the engine cannot
// honor. Mosaic accepts axes in (-3, 3); Stack accepts [-4, 4) except the
// scenes axis itself.
type UnsupportedAxisError struct {
	Op   string
	Axis int
}

func (e *UnsupportedAxisError) Error() string {
	return fmt.Sprintf("unsupported bands axis %d for %s", e.Axis, e.Op)
}

// AlphaOrderError reports an explicitly requested alpha band that is not the
// last of the band list. The masking pipeline needs alpha last.
type AlphaOrderError struct {
	Bands []string
}

func (e *AlphaOrderError) Error() string {
	return fmt.Sprintf("alpha band must be requested last, got %v", e.Bands)
}
