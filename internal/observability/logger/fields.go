package logger

import "go.uber.org/zap"

// Standard HTTP fields.

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func Bytes(v int) zap.Field        { return zap.Int("bytes", v) }
func DurationMs(v int64) zap.Field { return zap.Int64("duration_ms", v) }
func Addr(v string) zap.Field      { return zap.String("addr", v) }

// Standard domain fields.

func KID(v string) zap.Field        { return zap.String("kid", v) }
func RetiredKID(v string) zap.Field { return zap.String("retired_kid", v) }
func Count(v int) zap.Field         { return zap.Int("count", v) }
func TenantID(v string) zap.Field   { return zap.String("tenant_id", v) }
func UserID(v string) zap.Field     { return zap.String("user_id", v) }
func Audience(v string) zap.Field   { return zap.String("aud", v) }
func Subject(v string) zap.Field    { return zap.String("sub", v) }

func Err(err error) zap.Field { return zap.Error(err) }
