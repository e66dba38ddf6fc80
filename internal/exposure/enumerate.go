package exposure

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"

	"github.com/banshee-data/tsnr.report/internal/fsutil"
	"github.com/banshee-data/tsnr.report/internal/monitoring"
)

// Enumerate lists the units under layout that pass sel, sorted by night,
// exposure and camera. Directory entries that are not integers and frame
// files with unexpected names are skipped with a warning. A requested night
// with no directory contributes no units.
func Enumerate(fsys fsutil.FileSystem, layout Layout, sel Selection) ([]Unit, error) {
	match := sel.Matcher()

	nights := sel.Nights
	if len(nights) == 0 {
		var err error
		nights, err = integerDirs(fsys, layout.ExposuresDir())
		if err != nil {
			return nil, fmt.Errorf("list nights: %w", err)
		}
	}

	var units []Unit
	for _, night := range nights {
		if !match.Night(night) {
			continue
		}
		expids, err := integerDirs(fsys, layout.NightDir(night))
		if errors.Is(err, fs.ErrNotExist) {
			monitoring.Warnf("no exposures directory for night %d", night)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list exposures for night %d: %w", night, err)
		}
		for _, expid := range expids {
			if !match.ExpID(expid) {
				continue
			}
			found, err := exposureUnits(fsys, layout, night, expid, match)
			if err != nil {
				return nil, err
			}
			units = append(units, found...)
		}
	}

	sort.Slice(units, func(i, j int) bool { return units[i].Less(units[j]) })
	return units, nil
}

// NightsOf returns the distinct nights of units in ascending order.
func NightsOf(units []Unit) []int {
	seen := make(map[int]bool)
	var out []int
	for _, u := range units {
		if !seen[u.Night] {
			seen[u.Night] = true
			out = append(out, u.Night)
		}
	}
	sort.Ints(out)
	return out
}

func exposureUnits(fsys fsutil.FileSystem, layout Layout, night, expid int, match Matcher) ([]Unit, error) {
	dir := layout.ExposureDir(night, expid)
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []Unit
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		cam, ok := parseFrameName(e.Name(), expid)
		if !ok {
			continue
		}
		u := Unit{Night: night, ExpID: expid, Camera: cam}
		if match.Unit(u) {
			out = append(out, u)
		}
	}
	return out, nil
}

// integerDirs returns the integer-named sub-directories of dir, sorted.
func integerDirs(fsys fsutil.FileSystem, dir string) ([]int, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			monitoring.Warnf("skipping non-integer directory %q in %s", e.Name(), dir)
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}
