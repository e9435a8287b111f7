// Package version хранит сведения о сборке, проставляемые через -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build — сведения о сборке для /version и health-ответов.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version,omitempty"`
}

func GetVersion() string { return version }

// GetCommit возвращает commit из -ldflags, а без них — vcs.revision из debug.BuildInfo.
func GetCommit() string {
	if commit != "unknown" {
		return commit
	}
	if revision := buildSetting("vcs.revision"); revision != "" {
		return revision
	}
	return commit
}

// Current собирает Build целиком.
func Current() Build {
	build := Build{Version: version, Commit: GetCommit(), Date: date}
	if info, ok := debug.ReadBuildInfo(); ok {
		build.GoVersion = info.GoVersion
	}
	return build
}

// UserAgent — значение для исходящих запросов к платёжному провайдеру.
func UserAgent() string {
	return "storefront/" + version
}

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, GetCommit(), date)
}

func buildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}
