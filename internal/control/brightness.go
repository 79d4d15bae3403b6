package control

import (
	"github.com/banshee-data/camera.control/internal/camera"
)

// MeanBrightness is the arithmetic mean of every sample in the frame.
func MeanBrightness(f *camera.Frame) (float64, error) {
	if f == nil || len(f.Pixels) == 0 {
		return 0, ErrEmptyFrame
	}
	var sum uint64
	for _, p := range f.Pixels {
		sum += uint64(p)
	}
	return float64(sum) / float64(len(f.Pixels)), nil
}
