package config

import (
	"fmt"

	"github.com/tliron/commonlog"
)

var levelNames = map[string]commonlog.Level{
	"none":     commonlog.None,
	"critical": commonlog.Critical,
	"error":    commonlog.Error,
	"warning":  commonlog.Warning,
	"notice":   commonlog.Notice,
	"info":     commonlog.Info,
	"debug":    commonlog.Debug,
}

// ParseLevel maps a level name from the [log] table to a commonlog level.
func ParseLevel(name string) (commonlog.Level, error) {
	l, ok := levelNames[name]
	if !ok {
		return commonlog.None, fmt.Errorf("%w: unknown log level %q", ErrInvalid, name)
	}
	return l, nil
}

// Verbosity converts the configured level to commonlog's verbosity scale,
// where 0 is notice.
func (l LogConfig) Verbosity() int {
	lvl, err := ParseLevel(l.Level)
	if err != nil {
		return 0
	}
	return int(lvl) - int(commonlog.Notice)
}

// Apply configures the commonlog backend. A backend must already be
// registered, usually by importing github.com/tliron/commonlog/simple.
func (l LogConfig) Apply() error {
	var path *string
	if l.File != "" {
		path = &l.File
	}
	commonlog.Configure(l.Verbosity(), path)
	for name, level := range l.Levels {
		lvl, err := ParseLevel(level)
		if err != nil {
			return fmt.Errorf("log.levels.%s: %w", name, err)
		}
		commonlog.SetMaxLevel(lvl, commonlog.PathToName(name)...)
	}
	return nil
}
