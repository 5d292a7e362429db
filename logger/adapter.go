package logger

import (
	"time"

	"github.com/rs/zerolog"
)

// event routes string and interface fields through the masker before they
// reach zerolog.
type event struct {
	e    *zerolog.Event
	mask *Masker
}

func (ev event) with(e *zerolog.Event) LogEvent { return event{e: e, mask: ev.mask} }

func (ev event) Msg(msg string)                  { ev.e.Msg(msg) }
func (ev event) Msgf(format string, args ...any) { ev.e.Msgf(format, args...) }

func (ev event) Err(err error) LogEvent { return ev.with(ev.e.Err(err)) }

func (ev event) Str(key, value string) LogEvent {
	return ev.with(ev.e.Str(key, ev.mask.String(key, value)))
}

func (ev event) Strs(key string, values []string) LogEvent { return ev.with(ev.e.Strs(key, values)) }
func (ev event) Int(key string, value int) LogEvent        { return ev.with(ev.e.Int(key, value)) }
func (ev event) Int64(key string, value int64) LogEvent    { return ev.with(ev.e.Int64(key, value)) }
func (ev event) Bool(key string, value bool) LogEvent      { return ev.with(ev.e.Bool(key, value)) }
func (ev event) Dur(key string, d time.Duration) LogEvent  { return ev.with(ev.e.Dur(key, d)) }

func (ev event) Interface(key string, i any) LogEvent {
	return ev.with(ev.e.Interface(key, ev.mask.Value(key, i)))
}

func (l *ZeroLogger) Info() LogEvent  { return event{e: l.zlog.Info(), mask: l.mask} }
func (l *ZeroLogger) Error() LogEvent { return event{e: l.zlog.Error(), mask: l.mask} }
func (l *ZeroLogger) Debug() LogEvent { return event{e: l.zlog.Debug(), mask: l.mask} }
func (l *ZeroLogger) Warn() LogEvent  { return event{e: l.zlog.Warn(), mask: l.mask} }
func (l *ZeroLogger) Fatal() LogEvent { return event{e: l.zlog.Fatal(), mask: l.mask} }
