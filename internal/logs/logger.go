package logs

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger: глобальный логгер приложения. До вызова Init пишет в stderr с уровнем info,
// поэтому пакеты можно использовать в тестах без инициализации.
var Logger = logrus.New()

// Options: параметры инициализации логгера.
type Options struct {
	Level  string    // trace|debug|info|warning|error|fatal
	Format string    // text|json
	File   string    // префикс лог-файла; пусто: только Output
	Output io.Writer // по умолчанию stdout
}

// Init настраивает глобальный логгер. Ошибка открытия файла не фатальна:
// логгер остаётся на Output, а причина пишется в него же.
func Init(opts Options) {
	l := logrus.New()
	l.SetLevel(ParseLevel(opts.Level))

	if strings.EqualFold(opts.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap:        logrus.FieldMap{logrus.FieldKeyMsg: "message"},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	l.SetOutput(out)
	if opts.File != "" {
		f, err := openFile(opts.File, time.Now())
		if err != nil {
			l.WithError(err).Error("log file unavailable, logging to stdout only")
		} else {
			l.SetOutput(io.MultiWriter(f, out))
		}
	}

	Logger = l
}

// openFile: новый файл на каждый запуск, <prefix>_<дата-время>.log.
func openFile(prefix string, at time.Time) (*os.File, error) {
	name := fmt.Sprintf("%s_%s.log", prefix, at.Format("2006-01-02_15-04-05"))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", name, err)
	}
	return f, nil
}

// ParseLevel понимает имена уровней logrus в любом регистре; неизвестное даёт info.
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil || lvl == logrus.PanicLevel {
		return logrus.InfoLevel
	}
	return lvl
}
