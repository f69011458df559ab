// Package version хранит сведения о сборке marketplace.
//
// Значения проставляются при сборке:
//
//	go build -ldflags "-X .../internal/version.version=1.4.0 -X .../internal/version.commit=$(git rev-parse HEAD)"
//
// Без ldflags коммит и дата берутся из VCS-меток, которые go build встраивает сам.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"
)

const unknown = "unknown"

var (
	version = "dev"
	commit  = ""
	date    = ""
)

// Build — сведения о собранном бинарнике.
type Build struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
	Modified  bool
}

var current = sync.OnceValue(func() Build {
	info, _ := debug.ReadBuildInfo()
	return resolve(version, commit, date, info)
})

// Current возвращает сведения о текущей сборке.
func Current() Build { return current() }

// resolve дополняет значения из ldflags данными debug.BuildInfo.
func resolve(v, c, d string, info *debug.BuildInfo) Build {
	b := Build{Version: v, Commit: c, Date: d, GoVersion: runtime.Version()}
	if info != nil {
		b.GoVersion = info.GoVersion
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if b.Commit == "" {
					b.Commit = s.Value
				}
			case "vcs.time":
				if b.Date == "" {
					b.Date = s.Value
				}
			case "vcs.modified":
				b.Modified = s.Value == "true"
			}
		}
	}
	if b.Version == "" {
		b.Version = "dev"
	}
	if b.Commit == "" {
		b.Commit = unknown
	}
	if b.Date == "" {
		b.Date = unknown
	}
	return b
}

// ShortCommit — первые 12 символов хеша.
func (b Build) ShortCommit() string {
	if len(b.Commit) > 12 {
		return b.Commit[:12]
	}
	return b.Commit
}

// Fields — поля для лога старта сервиса.
func (b Build) Fields() log.Fields {
	return log.Fields{
		"version":  b.Version,
		"commit":   b.ShortCommit(),
		"built_at": b.Date,
		"go":       b.GoVersion,
		"dirty":    b.Modified,
	}
}

func (b Build) String() string {
	s := fmt.Sprintf("marketplace %s (%s, %s, %s)", b.Version, b.ShortCommit(), b.Date, b.GoVersion)
	if b.Modified {
		s += " dirty"
	}
	return s
}
