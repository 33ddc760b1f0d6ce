// Package version хранит данные сборки, которые подставляются через -ldflags:
//
//	-X github.com/vladislavdragonenkov/oms-reservations/internal/version.version=v1.2.0
//
// Если коммит не задан, берётся ревизия VCS, записанная компилятором.
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

// Build — сведения о сборке сервиса.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	b := Build{Version: version, Commit: commit, Date: date}
	if info, ok := debug.ReadBuildInfo(); ok {
		b = b.withVCS(info.Settings)
	}
	return b
}

// withVCS дополняет незаданные через ldflags поля из настроек vcs.*.
func (b Build) withVCS(settings []debug.BuildSetting) Build {
	for _, s := range settings {
		switch {
		case s.Key == "vcs.revision" && b.Commit == "unknown" && s.Value != "":
			b.Commit = s.Value
		case s.Key == "vcs.time" && b.Date == "unknown" && s.Value != "":
			b.Date = s.Value
		}
	}
	return b
}

// GetVersion — версия для health-ответов.
func GetVersion() string { return version }

func (b Build) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}
