// Package config holds the small set of process-global settings shared by
// every command surface: the current OS user and the selected output
// rendering format.
package config

import (
	"os"
	"os/user"
	"runtime"

	"github.com/sirupsen/logrus"
)

// CurrentUser is the OS user the process is running as ("root" or a
// regular account name). Set once by DetectEnvironment.
var CurrentUser string

// Output format constants.
const (
	OUTPUT_TEXT        = "text"
	OUTPUT_YAML        = "yaml"
	OUTPUT_JSON        = "json"
	OUTPUT_JSON_PRETTY = "json-pretty"
)

// ValidOutputFormats contains all valid output format values for the CLI flag.
var ValidOutputFormats = []string{OUTPUT_TEXT, OUTPUT_YAML, OUTPUT_JSON, OUTPUT_JSON_PRETTY}

// OutputFormat is the global output format setting (default: text).
var OutputFormat = OUTPUT_TEXT

// IsStructuredOutput returns true if the current output format is
// structured (YAML/JSON) rather than plain text.
func IsStructuredOutput() bool {
	return OutputFormat == OUTPUT_YAML || OutputFormat == OUTPUT_JSON || OutputFormat == OUTPUT_JSON_PRETTY
}

// Build information. Populated at build-time via ldflags.
var (
	Version   = "1.0.0"
	Branch    = "main"
	Revision  = "HEAD"
	BuildDate = "development"
	GoVersion = runtime.Version()
	GOOS      = runtime.GOOS
	GOARCH    = runtime.GOARCH
)

// DetectEnvironment fills CurrentUser. The cmd package's
// PersistentPreRunE does not call it, so CurrentUser stays empty unless a
// caller runs it explicitly.
func DetectEnvironment() {
	if os.Geteuid() == 0 {
		CurrentUser = "root"
		return
	}
	if u, err := user.Current(); err == nil {
		CurrentUser = u.Username
		return
	}
	if envUser := os.Getenv("USER"); envUser != "" {
		CurrentUser = envUser
		return
	}
	CurrentUser = "unknown"
	logrus.Warnf("could not determine current user, using 'unknown'")
}
