package logger

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Field = zap.Field

func String(key string, val string) Field {
	return zap.String(key, val)
}

func Int(key string, val int) Field {
	return zap.Int(key, val)
}

func Duration(key string, val time.Duration) Field {
	return zap.Duration(key, val)
}

func Time(key string, val time.Time) Field {
	return zap.Time(key, val)
}

// KeyVals flattens zap Fields into the alternating key/value slice
// go-kit/log's Logger.Log expects, so callers can build structured fields
// with the same String/Int/Duration/Time constructors used elsewhere in
// the codebase and still log through the go-kit logger returned by
// NewLogger.
func KeyVals(fields ...Field) []interface{} {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	keyvals := make([]interface{}, 0, len(enc.Fields)*2)
	for _, f := range fields {
		keyvals = append(keyvals, f.Key, enc.Fields[f.Key])
	}
	return keyvals
}
