package logx

import (
	"strings"

	"github.com/rs/zerolog"
)

var levelNames = map[string]zerolog.Level{
	"TRACE":   zerolog.TraceLevel,
	"DEBUG":   zerolog.DebugLevel,
	"INFO":    zerolog.InfoLevel,
	"WARN":    zerolog.WarnLevel,
	"WARNING": zerolog.WarnLevel,
	"ERROR":   zerolog.ErrorLevel,
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	if lvl, ok := levelNames[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return lvl
	}
	return def
}

// ValidLevel reports whether s names a level. Empty selects the default.
func ValidLevel(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	_, ok := levelNames[s]
	return ok || s == ""
}
