package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// DefaultName is the logger name used when a component does not ask for one.
const DefaultName = "ingest"

// Resolve picks provider, then logger, then nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	if name == "" {
		name = DefaultName
	}
	return glog.Resolve(name, provider, logger)
}

// Named returns the provider logger for a component, or fallback when the
// provider is absent.
func Named(provider glog.LoggerProvider, name string, fallback glog.Logger) glog.Logger {
	if provider != nil {
		if logger := provider.GetLogger(name); logger != nil {
			return logger
		}
	}
	return glog.Ensure(fallback)
}

// ToJobLogger bridges logger into the go-job logger the task queue uses.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}
