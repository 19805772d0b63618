package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI escapes used by the pretty console.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

var levelColors = map[zapcore.Level]string{
	zapcore.DebugLevel:  ColorCyan,
	zapcore.InfoLevel:   ColorGreen,
	zapcore.WarnLevel:   ColorYellow,
	zapcore.ErrorLevel:  ColorRed,
	zapcore.DPanicLevel: ColorRed + ColorBold,
	zapcore.PanicLevel:  ColorRed + ColorBold,
	zapcore.FatalLevel:  ColorRed + ColorBold,
}

// PrettyEncoder is a compact colored console encoder: wall-clock time with
// milliseconds, a colored level tag, the logger name and the message. Caller
// and stack traces are left to the JSON file.
func PrettyEncoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.CallerKey = ""
	cfg.StacktraceKey = ""
	cfg.FunctionKey = ""
	cfg.ConsoleSeparator = "  "
	cfg.EncodeLevel = colorLevelEncoder
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.EncodeName = zapcore.FullNameEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func colorLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	tag := "[" + level.CapitalString() + "]"
	color, ok := levelColors[level]
	if !ok {
		enc.AppendString(tag)
		return
	}
	enc.AppendString(color + tag + ColorReset)
}
