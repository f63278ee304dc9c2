package logs

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger: глобальный логгер приложения. До Init пишет в stderr с уровнем info,
// чтобы пакеты и тесты могли логировать без явной инициализации.
var Logger = logrus.New()

// Options: параметры инициализации логгера.
type Options struct {
	Level  string // trace|debug|info|warning|error|fatal
	Format string // text|json
	File   string // путь/префикс лог-файла; если пусто - только stdout
}

// ParseLevel переводит строку конфига в уровень logrus; неизвестное значение - info.
func ParseLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warning", "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// Init настраивает глобальный логгер по переданным опциям.
// Возвращает закрывающую функцию для файла логов (no-op без файла).
func Init(opts Options) (func() error, error) {
	l := logrus.New()
	l.SetLevel(ParseLevel(opts.Level))

	// формат
	if opts.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	closeFn := func() error { return nil }

	// вывод
	if opts.File != "" {
		currentTime := time.Now().Format("2006-01-02_15-04-05")
		logFileName := fmt.Sprintf("%s_%s.log", opts.File, currentTime)
		file, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return closeFn, fmt.Errorf("open log file %s: %w", logFileName, err)
		}
		l.SetOutput(io.MultiWriter(file, os.Stdout))
		closeFn = file.Close
	} else {
		l.SetOutput(os.Stdout)
	}

	Logger = l
	return closeFn, nil
}

// Component возвращает entry с полем component - так помечаются сообщения подсистем.
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}
