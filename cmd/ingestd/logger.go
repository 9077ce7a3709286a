package main

import (
	"io"

	glog "github.com/goliatone/go-logger/glog"
)

// newLogger writes JSON lines to w. The root logger also serves as the
// provider for the named component loggers of the runtime.
func newLogger(w io.Writer, debug bool) *glog.BaseLogger {
	level := glog.Info
	if debug {
		level = glog.Trace
	}
	return glog.NewLogger(
		glog.WithName("ingestd"),
		glog.WithLoggerTypeJSON(),
		glog.WithWriter(w),
		glog.WithLevel(level),
	)
}
