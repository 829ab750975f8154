// Package obslog: 프로세스 전역 로거. 콘솔+파일 동시 출력 지원.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultFile = "logs/p2pchess.log"

var current atomic.Pointer[zap.Logger]

func init() { current.Store(zap.NewNop()) }

// L는 전역 로거를 반환. Init 전에는 nop.
func L() *zap.Logger { return current.Load() }

type Options struct {
	Level string
	// plain | console | json, 그 외는 plain
	Format    string
	ToConsole bool
	ToFile    bool
	File      string
	Caller    bool
}

// Init은 옵션으로 로거를 만들어 전역으로 교체.
func Init(opts Options) error {
	logger, err := New(opts)
	if err != nil {
		return err
	}
	current.Store(logger)
	return nil
}

// New는 전역 로거를 건드리지 않고 로거만 생성. 싱크가 없으면 nop.
func New(opts Options) (*zap.Logger, error) {
	enc := encoder(strings.ToLower(strings.TrimSpace(opts.Format)))
	level := parseLevel(opts.Level)

	sinks, err := openSinks(opts)
	if err != nil {
		return nil, err
	}
	if len(sinks) == 0 {
		return zap.NewNop(), nil
	}
	cores := make([]zapcore.Core, 0, len(sinks))
	for _, ws := range sinks {
		cores = append(cores, zapcore.NewCore(enc, ws, level))
	}

	zopts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.Caller {
		zopts = append(zopts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), zopts...), nil
}

func openSinks(opts Options) ([]zapcore.WriteSyncer, error) {
	var out []zapcore.WriteSyncer
	if opts.ToConsole {
		out = append(out, zapcore.Lock(os.Stderr))
	}
	if !opts.ToFile {
		return out, nil
	}
	path := strings.TrimSpace(opts.File)
	if path == "" {
		path = filepath.FromSlash(defaultFile)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return append(out, zapcore.AddSync(f)), nil
}

func encoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	switch format {
	case "json":
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	case "console":
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	// plain: ' | ' 구분 한 줄
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " | "
	return zapcore.NewConsoleEncoder(cfg)
}

// 알 수 없는 레벨은 info로 처리.
func parseLevel(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil || s == "" {
		return zapcore.InfoLevel
	}
	return lvl
}
