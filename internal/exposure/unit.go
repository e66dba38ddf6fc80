// Package exposure identifies the per-camera work units of a reduction:
// nights, exposure ids, cameras, the on-disk layout that holds them, and the
// selectors used to restrict a run to a subset.
package exposure

import (
	"fmt"
	"strconv"
)

// NumPetals is the number of spectrograph petals read out per exposure.
const NumPetals = 10

// Bands lists the three camera bands of every petal, in output order.
var Bands = []byte{'b', 'r', 'z'}

// Camera is one spectrograph channel: a band and a petal.
type Camera struct {
	Band  byte
	Petal int
}

// ParseCamera parses a token such as "b3".
func ParseCamera(s string) (Camera, error) {
	if len(s) != 2 {
		return Camera{}, fmt.Errorf("invalid camera %q: expected band letter and petal digit", s)
	}
	band := s[0] | 0x20 // lower-case
	if !validBand(band) {
		return Camera{}, fmt.Errorf("invalid camera %q: unknown band %q", s, s[0])
	}
	if s[1] < '0' || s[1] > '9' {
		return Camera{}, fmt.Errorf("invalid camera %q: petal must be 0-9", s)
	}
	return Camera{Band: band, Petal: int(s[1] - '0')}, nil
}

// MustParseCamera is ParseCamera for constants in tests and fixtures.
func MustParseCamera(s string) Camera {
	c, err := ParseCamera(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Camera) String() string {
	return string([]byte{c.Band, byte('0' + c.Petal)})
}

// PetalOf returns the petal number encoded in a camera token, or -1 if the
// token is not a valid camera.
func PetalOf(token string) int {
	c, err := ParseCamera(token)
	if err != nil {
		return -1
	}
	return c.Petal
}

func validBand(b byte) bool {
	for _, v := range Bands {
		if v == b {
			return true
		}
	}
	return false
}

// AllCameras returns the thirty cameras in band-major order.
func AllCameras() []Camera {
	out := make([]Camera, 0, len(Bands)*NumPetals)
	for _, b := range Bands {
		for p := 0; p < NumPetals; p++ {
			out = append(out, Camera{Band: b, Petal: p})
		}
	}
	return out
}

// Unit identifies one source measurement: a camera of an exposure taken on
// a night.
type Unit struct {
	Night  int
	ExpID  int
	Camera Camera
}

func (u Unit) String() string {
	return fmt.Sprintf("%d/%08d/%s", u.Night, u.ExpID, u.Camera)
}

// Less orders units by night, exposure, band and petal.
func (u Unit) Less(o Unit) bool {
	if u.Night != o.Night {
		return u.Night < o.Night
	}
	if u.ExpID != o.ExpID {
		return u.ExpID < o.ExpID
	}
	if u.Camera.Band != o.Camera.Band {
		return u.Camera.Band < o.Camera.Band
	}
	return u.Camera.Petal < o.Camera.Petal
}

// ParseNight validates a YYYYMMDD night identifier.
func ParseNight(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("could not convert night %q to integer", s)
	}
	if err := ValidateNight(n); err != nil {
		return 0, err
	}
	return n, nil
}

// ValidateNight checks that n is a plausible calendar date in YYYYMMDD form.
func ValidateNight(n int) error {
	year := n / 10000
	month := (n - year*10000) / 100
	day := n - year*10000 - month*100
	if year <= 1969 || year >= 2038 || month < 1 || month > 12 || day < 1 || day > 31 {
		return fmt.Errorf("night %d is not a valid calendar date", n)
	}
	return nil
}
