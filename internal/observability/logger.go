package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Zereker/xorsock"
	"github.com/Zereker/xorsock/internal/config"
)

// InitLogger installs a console logger tagged with app as the global
// zerolog logger and returns it. level falls back to info when empty or
// unknown; the XORSOCK_LOG_LEVEL environment variable wins over level.
func InitLogger(app, level string) zerolog.Logger {
	return InitLoggerTo(os.Stdout, app, level)
}

// InitLoggerTo is InitLogger writing to out.
func InitLoggerTo(out io.Writer, app, level string) zerolog.Logger {
	if env, ok := os.LookupEnv(config.EnvLogLevel); ok && strings.TrimSpace(env) != "" {
		level = env
	}
	lvl, ok := ParseLevel(level)
	if !ok {
		lvl = zerolog.InfoLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).Level(lvl).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

// Adapter lets a zerolog.Logger serve as an xorsock.Logger.
type Adapter struct {
	logger zerolog.Logger
}

var _ xorsock.Logger = Adapter{}

func NewAdapter(logger zerolog.Logger) Adapter {
	return Adapter{logger: logger}
}

func (a Adapter) Debug(msg string, args ...any) { emit(a.logger.Debug(), msg, args) }
func (a Adapter) Info(msg string, args ...any)  { emit(a.logger.Info(), msg, args) }
func (a Adapter) Warn(msg string, args ...any)  { emit(a.logger.Warn(), msg, args) }
func (a Adapter) Error(msg string, args ...any) { emit(a.logger.Error(), msg, args) }

// emit attaches slog-style key-value pairs to e. A dangling key is logged
// under "!BADKEY", as slog does.
func emit(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 == len(args) {
			e = e.Interface("!BADKEY", args[i])
			i--
			continue
		}
		switch v := args[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case fmt.Stringer:
			e = e.Stringer(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}
