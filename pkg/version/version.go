// Package version provides the version of the deploylock binary
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// BuildVersion is the version of the build. It is set at link time.
var BuildVersion = "dev" //nolint:gochecknoglobals

const commitLen = 10

// Info describes the build of the running binary
type Info struct {
	Version  string `json:"version"`
	Commit   string `json:"commit,omitempty"`
	Dirty    bool   `json:"dirty,omitempty"`
	Go       string `json:"go"`
	Platform string `json:"platform"`
}

// Read returns the build information of the running binary.
// Returns false if the binary was built without module support.
func Read() (Info, bool) {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return Info{}, false
	}

	info := Info{
		Version:  BuildVersion,
		Go:       runtime.Version(),
		Platform: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	for _, s := range buildInfo.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value[:min(commitLen, len(s.Value))]
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		default:
		}
	}

	return info, true
}

// String returns the version, the commit and the platform in a single line
func (i Info) String() string {
	parts := []string{i.Version}
	if i.Commit != "" {
		commit := "commit/" + i.Commit
		if i.Dirty {
			commit += "-dirty"
		}
		parts = append(parts, commit)
	}
	parts = append(parts, i.Go, i.Platform)

	return strings.Join(parts, " ")
}

// Details returns the details about version and build information.
func Details() string {
	info, ok := Read()
	if !ok {
		return "unknown"
	}
	return info.String()
}
