package logging

import (
	"log/slog"
)

type LogCode string

const (
	// SYSTEM EVENTS (SYSTEM*)
	SYSTEM LogCode = "SYSTEM"

	// LAYER OPERATIONS (LAYER*)
	LAYER_CREATE  LogCode = "LAYER_CREATE"
	LAYER_UPDATE  LogCode = "LAYER_UPDATE"
	LAYER_DELETE  LogCode = "LAYER_DELETE"
	LAYER_MIGRATE LogCode = "LAYER_MIGRATE"

	// BACKGROUND TASKS (TASK*)
	TASK_THUMBNAIL    LogCode = "TASK_THUMBNAIL"
	TASK_EXPIRE_CACHE LogCode = "TASK_EXPIRE_CACHE"
)

// VictoriaLogs has fixed field name for time (_time) and message(_msg). This function maps fields msg -> _msg and time -> _time.
func convertKeysToVictoriaLogs(keys []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{Key: "_time", Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05"))}
	}
	if a.Key == slog.MessageKey {
		return slog.Attr{Key: "_msg", Value: a.Value}
	}
	return a
}

func GetVictoriaLogsOptions(addSource bool) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: convertKeysToVictoriaLogs,
		AddSource:   addSource,
	}
}
