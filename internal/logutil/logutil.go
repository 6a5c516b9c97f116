// Package logutil holds the pslog conventions shared by the SDK, the CLI and
// the simulated service.
package logutil

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey tags every entry with the emitting subsystem.
const SubsystemKey = pslog.TrustedString("sys")

// Subsystem joins parts with dots, skipping empty fragments.
func Subsystem(parts ...string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, ". ")
		if part != "" {
			filtered = append(filtered, part)
		}
	}
	return strings.Join(filtered, ".")
}

// EnsureBase returns b, or a disabled logger when b is nil.
func EnsureBase(b pslog.Base) pslog.Base {
	if b == nil {
		return pslog.NoopLogger()
	}
	return b
}

// EnsureLogger returns l, or a disabled logger when l is nil.
func EnsureLogger(l pslog.Logger) pslog.Logger {
	if l == nil {
		return pslog.NoopLogger()
	}
	return l
}

// WithSubsystem tags b with subsystem when b supports fields. Plain
// pslog.Base implementations are returned unchanged.
func WithSubsystem(b pslog.Base, subsystem string) pslog.Base {
	b = EnsureBase(b)
	subsystem = strings.Trim(subsystem, ". ")
	if subsystem == "" {
		return b
	}
	if full, ok := b.(pslog.Logger); ok {
		return full.With(SubsystemKey, subsystem)
	}
	return b
}

// Named is WithSubsystem for full loggers.
func Named(l pslog.Logger, parts ...string) pslog.Logger {
	l = EnsureLogger(l)
	sub := Subsystem(parts...)
	if sub == "" {
		return l
	}
	return l.With(SubsystemKey, sub)
}
