// Package logger builds configured log/slog loggers: JSON or text handlers,
// env-driven level and format, and static service attributes.
//
// The identity store itself never logs; the service facade in svc/identity
// does, through a logger produced here.
package logger
