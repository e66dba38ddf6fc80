package exposure

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Selection restricts which units a run processes. Empty fields select
// everything; when several fields are set a unit must pass all of them.
type Selection struct {
	// Nights to scan. Empty means every night directory under the layout.
	Nights []int
	// ExpIDs to keep. Empty keeps every exposure.
	ExpIDs []int
	// Cameras to keep. Empty keeps every camera.
	Cameras []Camera
}

// Matcher answers membership queries for a Selection.
type Matcher struct {
	nights  map[int]bool
	expids  map[int]bool
	cameras map[Camera]bool
}

// Matcher builds the lookup sets for s.
func (s Selection) Matcher() Matcher {
	m := Matcher{}
	if len(s.Nights) > 0 {
		m.nights = make(map[int]bool, len(s.Nights))
		for _, n := range s.Nights {
			m.nights[n] = true
		}
	}
	if len(s.ExpIDs) > 0 {
		m.expids = make(map[int]bool, len(s.ExpIDs))
		for _, e := range s.ExpIDs {
			m.expids[e] = true
		}
	}
	if len(s.Cameras) > 0 {
		m.cameras = make(map[Camera]bool, len(s.Cameras))
		for _, c := range s.Cameras {
			m.cameras[c] = true
		}
	}
	return m
}

func (m Matcher) Night(n int) bool    { return m.nights == nil || m.nights[n] }
func (m Matcher) ExpID(e int) bool    { return m.expids == nil || m.expids[e] }
func (m Matcher) Camera(c Camera) bool { return m.cameras == nil || m.cameras[c] }

// Unit reports whether u passes every active filter.
func (m Matcher) Unit(u Unit) bool {
	return m.Night(u.Night) && m.ExpID(u.ExpID) && m.Camera(u.Camera)
}

// ParseIntList parses a comma-separated list of integers and inclusive
// ranges ("100:102", "100-102" or "100..102") into a sorted, de-duplicated
// slice. An empty string yields nil.
func ParseIntList(s string) ([]int, error) {
	s = strings.Trim(s, " \t,")
	if s == "" {
		return nil, nil
	}
	seen := make(map[int]bool)
	for _, term := range strings.Split(s, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		vals, err := parseIntTerm(term)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			seen[v] = true
		}
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

func parseIntTerm(term string) ([]int, error) {
	if v, err := strconv.Atoi(term); err == nil {
		return []int{v}, nil
	}
	for _, sep := range []string{"..", ":", "-"} {
		first, last, ok := strings.Cut(term, sep)
		if !ok {
			continue
		}
		lo, err := strconv.Atoi(strings.TrimSpace(first))
		if err != nil {
			return nil, fmt.Errorf("invalid range start in %q: %w", term, err)
		}
		hi, err := strconv.Atoi(strings.TrimSpace(last))
		if err != nil {
			return nil, fmt.Errorf("invalid range end in %q: %w", term, err)
		}
		if hi < lo {
			return nil, fmt.Errorf("invalid range %q: end before start", term)
		}
		out := make([]int, 0, hi-lo+1)
		for v := lo; v <= hi; v++ {
			out = append(out, v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("could not understand %q", term)
}

// ParseNights parses a night list with ParseIntList and validates each night.
func ParseNights(s string) ([]int, error) {
	nights, err := ParseIntList(s)
	if err != nil {
		return nil, err
	}
	for _, n := range nights {
		if err := ValidateNight(n); err != nil {
			return nil, err
		}
	}
	return nights, nil
}

// ParseCameras parses a comma-separated camera list. Each term is a full
// camera ("b3"), a band letter selecting all ten petals ("r"), or a petal
// digit selecting all three bands ("5").
func ParseCameras(s string) ([]Camera, error) {
	s = strings.Trim(s, " \t,")
	if s == "" {
		return nil, nil
	}
	seen := make(map[Camera]bool)
	for _, term := range strings.Split(s, ",") {
		term = strings.ToLower(strings.TrimSpace(term))
		switch {
		case term == "":
			continue
		case len(term) == 1 && validBand(term[0]):
			for p := 0; p < NumPetals; p++ {
				seen[Camera{Band: term[0], Petal: p}] = true
			}
		case len(term) == 1 && term[0] >= '0' && term[0] <= '9':
			for _, b := range Bands {
				seen[Camera{Band: b, Petal: int(term[0] - '0')}] = true
			}
		default:
			c, err := ParseCamera(term)
			if err != nil {
				return nil, err
			}
			seen[c] = true
		}
	}
	out := make([]Camera, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Band != out[j].Band {
			return out[i].Band < out[j].Band
		}
		return out[i].Petal < out[j].Petal
	})
	return out, nil
}
