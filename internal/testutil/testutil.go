// Package testutil provides shared test fixtures for the summary pipeline:
// in-memory reduction trees and log capture.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/banshee-data/tsnr.report/internal/exposure"
	"github.com/banshee-data/tsnr.report/internal/fsutil"
	"github.com/banshee-data/tsnr.report/internal/monitoring"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// FrameTree writes an empty frame file for every unit into a new in-memory
// filesystem laid out by l.
func FrameTree(t testing.TB, l exposure.Layout, units ...exposure.Unit) *fsutil.MemoryFileSystem {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	for _, u := range units {
		AssertNoError(t, mfs.WriteFile(l.FramePath(u), []byte("frame"), 0o644))
	}
	return mfs
}

// Units expands an exposure and a camera list into units, e.g.
// Units(20210505, 100, "b0", "r0").
func Units(night, expid int, cameras ...string) []exposure.Unit {
	out := make([]exposure.Unit, 0, len(cameras))
	for _, c := range cameras {
		out = append(out, exposure.Unit{Night: night, ExpID: expid, Camera: exposure.MustParseCamera(c)})
	}
	return out
}

// LogBuffer collects lines written through the monitoring logger.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
}

// Lines returns a copy of the captured lines.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// Contains reports whether any captured line contains substr.
func (b *LogBuffer) Contains(substr string) bool {
	for _, l := range b.Lines() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

// CaptureLogs redirects the monitoring logger into a LogBuffer for the rest
// of the test.
func CaptureLogs(t testing.TB) *LogBuffer {
	t.Helper()
	buf := &LogBuffer{}
	orig := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		buf.mu.Lock()
		defer buf.mu.Unlock()
		buf.lines = append(buf.lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.Logf = orig })
	return buf
}
