// Package version хранит сведения о сборке, заполняемые через -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// BuildInfo описывает собранный бинарник.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// Get возвращает сведения о сборке.
func Get() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, Date: date, GoVersion: runtime.Version()}
}

// Version возвращает номер версии.
func Version() string { return version }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// UserAgent возвращает значение заголовка User-Agent для исходящих HTTP-запросов утилит.
func UserAgent(component string) string {
	return fmt.Sprintf("shopsaga-%s/%s", component, version)
}
