package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/shaharia-lab/mcpclient/observability"
)

// LogLevel is a syslog style severity used by logging/setLevel and
// notifications/message.
type LogLevel string

const (
	LogLevelDebug     LogLevel = "debug"
	LogLevelInfo      LogLevel = "info"
	LogLevelNotice    LogLevel = "notice"
	LogLevelWarning   LogLevel = "warning"
	LogLevelError     LogLevel = "error"
	LogLevelCritical  LogLevel = "critical"
	LogLevelAlert     LogLevel = "alert"
	LogLevelEmergency LogLevel = "emergency"
)

// Lower numbers are more severe.
var logLevelSeverity = map[LogLevel]int{
	LogLevelEmergency: 0,
	LogLevelAlert:     1,
	LogLevelCritical:  2,
	LogLevelError:     3,
	LogLevelWarning:   4,
	LogLevelNotice:    5,
	LogLevelInfo:      6,
	LogLevelDebug:     7,
}

// Valid reports whether l is a known level.
func (l LogLevel) Valid() bool {
	_, ok := logLevelSeverity[l]
	return ok
}

// ParseLogLevel validates a level name.
func ParseLogLevel(s string) (LogLevel, error) {
	l := LogLevel(s)
	if !l.Valid() {
		return "", fmt.Errorf("invalid log level: %s", s)
	}
	return l, nil
}

// logServerMessage forwards a notifications/message payload to logger at the
// closest matching level.
func logServerMessage(logger observability.Logger, params LogMessageParams) {
	fields := map[string]interface{}{"source": "server"}
	if params.Logger != "" {
		fields["server_logger"] = params.Logger
	}
	l := logger.WithFields(fields)
	msg := renderLogData(params.Data)

	severity, ok := logLevelSeverity[params.Level]
	if !ok {
		severity = logLevelSeverity[LogLevelInfo]
	}
	switch {
	case severity <= logLevelSeverity[LogLevelError]:
		l.Error(msg)
	case severity == logLevelSeverity[LogLevelWarning]:
		l.Warn(msg)
	case severity == logLevelSeverity[LogLevelDebug]:
		l.Debug(msg)
	default:
		l.Info(msg)
	}
}

func renderLogData(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}
