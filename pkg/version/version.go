// Package version reports build metadata, set by ldflags or read from the
// embedded VCS info.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

var (
	// Overridable at build time:
	// -X github.com/tunegate/tunegate/pkg/version.Version=vX.Y.Z
	// -X github.com/tunegate/tunegate/pkg/version.Commit=<sha>
	// -X github.com/tunegate/tunegate/pkg/version.Date=<rfc3339>
	Version = "dev"
	Commit  = ""
	Date    = ""
)

type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
	Dirty   bool   `json:"dirty,omitempty"`
}

func Current() Info {
	info := Info{
		Version: strings.TrimSpace(Version),
		Commit:  strings.TrimSpace(Commit),
		Date:    strings.TrimSpace(Date),
	}
	if info.Version == "" {
		info.Version = "dev"
	}

	// Fill in from embedded VCS info when ldflags are absent.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = strings.TrimSpace(s.Value)
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = strings.TrimSpace(s.Value)
				}
			case "vcs.modified":
				info.Dirty = strings.EqualFold(strings.TrimSpace(s.Value), "true")
			}
		}
	}
	return info
}

func String() string {
	v := Current()
	parts := []string{v.Version}
	if v.Commit != "" {
		short := v.Commit
		if len(short) > 12 {
			short = short[:12]
		}
		parts = append(parts, short)
	}
	if v.Dirty {
		parts = append(parts, "dirty")
	}
	return strings.Join(parts, "+")
}

func Detailed() string {
	v := Current()
	out := fmt.Sprintf("tunegate %s", String())
	if v.Date != "" {
		out += "\nBuilt: " + v.Date
	}
	return out
}
