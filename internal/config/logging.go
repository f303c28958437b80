package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits below [slog.LevelDebug] and carries wire-level
// payloads: full LLM request/response JSON, raw MQTT frames. -8 is the
// usual numeric slot for a trace level in slog-based projects. Keep it
// off outside of provider debugging sessions; it logs entire prompts.
const LevelTrace = slog.Level(-8)

// logLevels maps the config file's log_level values. "warning" is an
// accepted alias for "warn"; the empty string means info.
var logLevels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"trace":   LevelTrace,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLogLevel converts a case-insensitive level name to an
// [slog.Level], trimming surrounding whitespace first.
func ParseLogLevel(s string) (slog.Level, error) {
	level, ok := logLevels[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
	return level, nil
}

// ReplaceLogLevelNames is an [slog.HandlerOptions.ReplaceAttr] hook that
// prints [LevelTrace] as "TRACE". slog has no name for custom levels and
// would otherwise render it as "DEBUG-4".
func ReplaceLogLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}
