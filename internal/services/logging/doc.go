// Package logging builds the slog handler tree for the app: console text
// output plus an optional JSON file sink. The handler is swappable at
// runtime so config hot-reloads never invalidate loggers already handed out.
package logging
