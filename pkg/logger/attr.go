package logger

import "log/slog"

// Error returns a uniform attribute for error values, keeping the "error"
// key consistent across every log site.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
