package node

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ethereum/go-ethereum/log"
)

// SetupLogging installs the root logger described by cfg. When a log file is
// configured the output is teed into it and the returned closer releases it;
// otherwise the closer is nil.
func SetupLogging(cfg LogConfig) (io.Closer, error) {
	level := slog.LevelInfo
	if cfg.Level != "" {
		lvl, err := parseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = lvl
	}
	var (
		output   io.Writer = os.Stderr
		closer   io.Closer
		useColor = !cfg.JSON && cfg.File == "" && isatty.IsTerminal(os.Stderr.Fd()) && os.Getenv("TERM") != "dumb"
	)
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		output, closer = io.MultiWriter(os.Stderr, rotating), rotating
	} else if useColor {
		output = colorable.NewColorableStderr()
	}
	var handler slog.Handler
	if cfg.JSON {
		handler = log.JSONHandler(output)
	} else {
		handler = log.NewTerminalHandler(output, useColor)
	}
	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(level)
	log.SetDefault(log.NewLogger(glogger))
	return closer, nil
}

// parseLevel accepts a level name (trace, debug, info, warn, error, crit) or
// a legacy numeric verbosity from 0 (crit) to 5 (trace).
func parseLevel(level string) (slog.Level, error) {
	if n, err := strconv.Atoi(level); err == nil {
		if n < 0 || n > 5 {
			return 0, fmt.Errorf("log verbosity %d out of range", n)
		}
		return log.FromLegacyLevel(n), nil
	}
	switch strings.ToLower(level) {
	case "trace":
		return log.LevelTrace, nil
	case "crit":
		return log.LevelCrit, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}
