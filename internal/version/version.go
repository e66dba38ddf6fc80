// Package version carries build metadata stamped in with -ldflags. The
// summary state file records Version and GitSHA so a reader can tell which
// writer produced it.
package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp. It is reported on the command line
	// only and never written into output files.
	BuildTime = "unknown"
)

// Writer identifies this build in persisted metadata.
func Writer() string {
	return "tsnr-summary " + Version + " (" + GitSHA + ")"
}
