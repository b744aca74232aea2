// Package version reports the version of this module, as recorded in the build info of the binary which embeds it.
package version

import (
	"runtime/debug"
)

// modulePath is the path in go.mod.
const modulePath = "github.com/wasmedge-go/wasmedge"

// Default is returned when the version cannot be determined, ex. in tests.
const Default = "dev"

// GetVersion returns the version of this module in the current binary, or Default.
func GetVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Default
	}
	return versionOf(info)
}

func versionOf(info *debug.BuildInfo) string {
	if info.Main.Path == modulePath {
		return versionOrDefault(info.Main.Version)
	}
	for _, dep := range info.Deps {
		if dep.Path != modulePath {
			continue
		}
		if dep.Replace != nil {
			return versionOrDefault(dep.Replace.Version)
		}
		return versionOrDefault(dep.Version)
	}
	return Default
}

func versionOrDefault(v string) string {
	// "(devel)" is the version of a main module built from a checkout.
	if v == "" || v == "(devel)" {
		return Default
	}
	return v
}
