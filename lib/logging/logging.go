// Package logging builds the zap logger shared by the command line tools.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	rotate "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Conf selects encoders, level and sinks.
type Conf struct {
	DevMode            bool   `long:"dev-mode" description:"human readable console logs" env:"FULAUT_DEV_MODE"`
	LogLevel           string `long:"log-level" description:"log level" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" env:"FULAUT_LOG_LEVEL"`
	EnableFileLog      bool   `long:"enable-file-log" description:"also write rotating log files" env:"FULAUT_ENABLE_FILE_LOG"`
	LogDir             string `long:"log-dir" description:"rotating log file dir" default:"./logs" env:"FULAUT_LOG_DIR"`
	LogRotationMaxDays int    `long:"log-rotation-max-days" description:"max days of log rotation" default:"7" env:"FULAUT_LOG_ROTATION_MAX_DAYS"`
	DisableStdoutLog   bool   `long:"disable-stdout-log" description:"do not log to stdout" env:"FULAUT_DISABLE_STDOUT_LOG"`
}

// Level maps the configured level name to a zap level; unknown names are
// info.
func (c *Conf) Level() zapcore.Level {
	switch c.LogLevel {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	}
	return zap.InfoLevel
}

// New builds a logger writing to stdout and, if enabled, rotating files.
func New(conf *Conf) (*zap.Logger, error) {
	var encoder zapcore.Encoder
	if conf.DevMode {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		c := zap.NewProductionEncoderConfig()
		c.EncodeTime = zapcore.ISO8601TimeEncoder
		c.TimeKey = "timestamp"
		encoder = zapcore.NewJSONEncoder(c)
	}
	level := zap.NewAtomicLevelAt(conf.Level())

	cores := []zapcore.Core{}
	if conf.EnableFileLog {
		rotator, err := makeRotator(conf.LogDir, conf.LogRotationMaxDays)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}
	if !conf.DisableStdoutLog {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// Setup builds the logger and installs it as the global one.
func Setup(conf *Conf) (*zap.Logger, error) {
	logger, err := New(conf)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	zap.L().Debug("starting logger",
		zap.Bool("dev_mode", conf.DevMode),
		zap.Bool("file_log", conf.EnableFileLog),
		zap.Int("rotation_max_days", conf.LogRotationMaxDays))
	return logger, nil
}

func makeRotator(dirPath string, rotationMaxDays int) (*rotate.RotateLogs, error) {
	info, err := os.Stat(dirPath)
	if err != nil {
		return nil, fmt.Errorf("log directory %s: %w", dirPath, err)
	}
	if !info.IsDir() || info.Mode().Perm()&(1<<uint(7)) == 0 {
		return nil, fmt.Errorf("%s is not a writable directory", dirPath)
	}
	return rotate.New(
		filepath.Join(dirPath, "fulaut-%Y-%m-%d.log"),
		rotate.WithMaxAge(time.Duration(rotationMaxDays)*24*time.Hour),
		rotate.WithRotationTime(time.Hour))
}
