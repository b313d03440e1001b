// Package log wires up op/go-logging with one formatter for stderr, an
// optional syslog backend, and an env var that overrides whatever level
// the caller asked for.
package log

import (
	"os"

	"github.com/op/go-logging"
)

var stderrFormat = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{level:.4s} %{module} %{shortfunc}%{color:reset} %{message}`,
)

var syslogFormat = logging.MustStringFormatter(
	`%{level:.4s} %{module} %{shortfunc} %{message}`,
)

// levelFromEnv parses MSNP_LOG_LEVEL, falling back to def when unset or
// unrecognized.
func levelFromEnv(def logging.Level) logging.Level {
	switch os.Getenv("MSNP_LOG_LEVEL") {
	case "CRITICAL":
		return logging.CRITICAL
	case "ERROR":
		return logging.ERROR
	case "WARNING":
		return logging.WARNING
	case "NOTICE":
		return logging.NOTICE
	case "INFO":
		return logging.INFO
	case "DEBUG":
		return logging.DEBUG
	default:
		return def
	}
}

// Init configures the process-wide logging backend once, at the given
// default level (overridable via MSNP_LOG_LEVEL), optionally tee'd to
// syslog. Every subsequent call to Logger shares this backend.
func Init(processName string, defaultLevel logging.Level, trySyslog bool) {
	level := levelFromEnv(defaultLevel)

	stderrBackend := logging.NewLogBackend(os.Stderr, "", 0)
	stderrFormatted := logging.NewBackendFormatter(stderrBackend, stderrFormat)
	stderrLeveled := logging.AddModuleLevel(stderrFormatted)
	stderrLeveled.SetLevel(level, "")

	backends := []logging.Backend{stderrLeveled}

	if trySyslog {
		if syslogBackend, err := logging.NewSyslogBackendPriority(processName, 0); err == nil {
			syslogFormatted := logging.NewBackendFormatter(syslogBackend, syslogFormat)
			syslogLeveled := logging.AddModuleLevel(syslogFormatted)
			syslogLeveled.SetLevel(level, "")
			backends = append(backends, syslogLeveled)
		}
	}

	logging.SetBackend(backends...)
}

// Logger returns the named component logger (listener, session, registry,
// router, store, ...). Must be called after Init.
func Logger(component string) *logging.Logger {
	return logging.MustGetLogger(component)
}
