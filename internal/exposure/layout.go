package exposure

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Layout locates per-unit files under a reduction's production directory:
//
//	<Root>/exposures/<NIGHT>/<EXPID:08d>/cframe-<CAMERA>-<EXPID:08d>.fits
//	<Root>/exposures/<NIGHT>/<EXPID:08d>/sky-<CAMERA>-<EXPID:08d>.fits
//	<Root>/exposures/<NIGHT>/<EXPID:08d>/fluxcalib-<CAMERA>-<EXPID:08d>.fits
//	<Root>/calibnight/<NIGHT>/fiberflatnight-<CAMERA>-<NIGHT>.fits
type Layout struct {
	Root string
}

// Inputs are the files the metric computation reads for one unit.
type Inputs struct {
	Frame     string
	FiberFlat string
	Sky       string
	FluxCalib string
}

// ExposuresDir is the directory holding one sub-directory per night.
func (l Layout) ExposuresDir() string {
	return filepath.Join(l.Root, "exposures")
}

// NightDir is the directory holding one sub-directory per exposure.
func (l Layout) NightDir(night int) string {
	return filepath.Join(l.ExposuresDir(), strconv.Itoa(night))
}

// ExposureDir is the directory holding the per-camera files of an exposure.
func (l Layout) ExposureDir(night, expid int) string {
	return filepath.Join(l.NightDir(night), fmt.Sprintf("%08d", expid))
}

// FramePath is the calibrated frame that defines whether a unit exists.
func (l Layout) FramePath(u Unit) string {
	return l.exposureFile(u, "cframe")
}

// Inputs returns the frame and its companion calibration files.
func (l Layout) Inputs(u Unit) Inputs {
	return Inputs{
		Frame: l.FramePath(u),
		FiberFlat: filepath.Join(l.Root, "calibnight", strconv.Itoa(u.Night),
			fmt.Sprintf("fiberflatnight-%s-%d.fits", u.Camera, u.Night)),
		Sky:       l.exposureFile(u, "sky"),
		FluxCalib: l.exposureFile(u, "fluxcalib"),
	}
}

func (l Layout) exposureFile(u Unit, prefix string) string {
	return filepath.Join(l.ExposureDir(u.Night, u.ExpID), fmt.Sprintf("%s-%s-%08d.fits", prefix, u.Camera, u.ExpID))
}

// parseFrameName extracts the camera from "cframe-b3-00012345.fits". The
// exposure id embedded in the name must match expid.
func parseFrameName(name string, expid int) (Camera, bool) {
	rest, ok := strings.CutPrefix(name, "cframe-")
	if !ok {
		return Camera{}, false
	}
	rest, ok = strings.CutSuffix(rest, ".fits")
	if !ok {
		return Camera{}, false
	}
	cam, id, ok := strings.Cut(rest, "-")
	if !ok {
		return Camera{}, false
	}
	n, err := strconv.Atoi(id)
	if err != nil || n != expid {
		return Camera{}, false
	}
	c, err := ParseCamera(cam)
	if err != nil {
		return Camera{}, false
	}
	return c, true
}
