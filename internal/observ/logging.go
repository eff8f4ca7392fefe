package observ

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// SetupLogging configures the process-wide logrus logger. format is "json"
// or "text"; unknown levels fall back to info.
func SetupLogging(format, level string) {
	if strings.EqualFold(format, "text") {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "ts",
			logrus.FieldKeyMsg:  "event",
		}})
	}
	logrus.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// Log emits one structured event through the standard logger. An "error"
// key in kv promotes the event to warn level.
func Log(event string, kv map[string]any) {
	entry := logrus.WithFields(logrus.Fields(kv))
	if _, ok := kv["error"]; ok {
		entry.Warn(event)
		return
	}
	entry.Info(event)
}

// Logger returns l, or the standard logger when l is nil. Components accept
// an optional logrus.FieldLogger and resolve it through here.
func Logger(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}
