package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/tsnr.report/internal/exposure"
	"github.com/banshee-data/tsnr.report/internal/monitoring"
)

func TestFrameTree(t *testing.T) {
	l := exposure.Layout{Root: "/redux/daily"}
	units := Units(20210505, 100, "b0", "z9")
	mfs := FrameTree(t, l, units...)
	for _, u := range units {
		assert.True(t, mfs.Exists(l.FramePath(u)), u.String())
	}

	got, err := exposure.Enumerate(mfs, l, exposure.Selection{})
	AssertNoError(t, err)
	assert.Equal(t, units, got)
}

func TestCaptureLogs(t *testing.T) {
	logs := CaptureLogs(t)
	monitoring.Logf("night %d done", 20210505)
	monitoring.Warnf("missing %s", "sky")

	assert.True(t, logs.Contains("night 20210505 done"))
	assert.True(t, logs.Contains("WARNING: missing sky"))
	assert.False(t, logs.Contains("DEBUG"))
	assert.Len(t, logs.Lines(), 2)
}

func TestAssertHelpers(t *testing.T) {
	AssertNoError(t, nil)
	AssertError(t, assert.AnError)
}
