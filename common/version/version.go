package version

import (
	"fmt"
	"runtime/debug"
)

var version = func() string {
	ver := "0.1.0"
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 8 {
				return fmt.Sprintf("%v (%v)", ver, setting.Value[:8])
			}
		}
	}
	return ver
}()

// GetVersion returns the daemon's version string, annotated with the build's
// VCS revision when available.
func GetVersion() string {
	return version
}
