// Package logx is a small structured-logging facade over zerolog.
//
// The zero value of Logger is a safe no-op. Use NewConsole for a plain
// console logger, New for the configured console/file setup, and NewAsync to
// route a logger's writes through a background queue so callers never block
// on the sink.
package logx
