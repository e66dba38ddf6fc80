package exposure

// Logged is one exposure as recorded by the observing log, independent of
// whether any of its cameras were reduced.
type Logged struct {
	Night   int
	ExpID   int
	TileID  int
	ExpTime float64
	ObsType string
}

// OnSky reports whether the exposure targeted a tile. Calibration and other
// non-science exposures carry a zero or negative tile id.
func (l Logged) OnSky() bool { return l.TileID > 0 }
