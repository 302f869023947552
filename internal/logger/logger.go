package logger

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options 描述日志输出的级别与滚动文件配置。
type Options struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger 包装 zap 的 SugaredLogger，统一使用 key/value 形式记录字段。
type Logger struct {
	sugar *zap.SugaredLogger
}

var redactKeys = []string{"password", "secret", "token", "authorization"}

// New 构造 JSON 日志：始终输出到 stdout，配置 Path 时额外写入 lumberjack 滚动文件。
func New(opts Options) (*Logger, error) {
	level := parseLevel(opts.Level)

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(os.Stdout), level),
	}

	if path := strings.TrimSpace(opts.Path); path != "" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    nz(opts.MaxSizeMB, 100),
			MaxBackups: nz(opts.MaxBackups, 3),
			MaxAge:     nz(opts.MaxAgeDays, 7),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(lj), level))
	}

	z := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{sugar: z.Sugar()}, nil
}

// NewNop 返回丢弃所有输出的 Logger，用于测试。
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.sugar.Debugw(msg, sanitize(kv)...)
}

func (l *Logger) Info(msg string, kv ...interface{}) {
	l.sugar.Infow(msg, sanitize(kv)...)
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.sugar.Warnw(msg, sanitize(kv)...)
}

func (l *Logger) Error(msg string, kv ...interface{}) {
	l.sugar.Errorw(msg, sanitize(kv)...)
}

// With 返回附带固定字段的子 Logger。
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(sanitize(kv)...)}
}

func sanitize(kv []interface{}) []interface{} {
	if len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key, _ := kv[i].(string)
		if isRedactKey(key) {
			out = append(out, kv[i], "[REDACTED]")
			continue
		}
		out = append(out, kv[i], kv[i+1])
	}
	return out
}

func isRedactKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	for _, k := range redactKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func nz(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
