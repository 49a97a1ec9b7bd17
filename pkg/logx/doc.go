// Package logx is structwatch's logging layer on top of zerolog.
//
// Console output is human readable, the optional file sink is JSON, and the
// optional Telegram sink mirrors warnings into the log chat once the bot is
// ready. Service.Apply swaps the sinks when the logging config reloads.
package logx
