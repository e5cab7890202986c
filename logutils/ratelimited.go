// Copyright (c) 2026 Tigera, Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logutils

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	FieldNextLog     = "nextLog"
	FieldLogsSkipped = "logsSkipped"

	defaultRateLimitInterval = 5 * time.Minute
)

// RateLimitedLogger wraps a logrus entry so that at most 1+burst logs are
// emitted per interval.  The last log allowed in an interval carries a
// "nextLog" field and the first log of the following interval carries a
// "logsSkipped" count, if any logs were suppressed.
//
// The With* methods return a new logger that shares the rate limit of its
// parent.
type RateLimitedLogger struct {
	limiter *rateLimiter
	entry   *log.Entry
	force   bool
}

type rateLimiter struct {
	lock     sync.Mutex
	interval time.Duration
	burst    int
	now      func() time.Time

	intervalEnd time.Time
	remaining   int
	skipped     int
}

type rateLimitedLoggerOpts struct {
	interval time.Duration
	burst    int
	logger   *log.Logger
	now      func() time.Time
}

type RateLimitedLoggerOpt func(*rateLimitedLoggerOpts)

// OptInterval sets the length of a logging interval.
func OptInterval(interval time.Duration) RateLimitedLoggerOpt {
	return func(o *rateLimitedLoggerOpts) {
		o.interval = interval
	}
}

// OptBurst sets the number of logs allowed in an interval in addition to the
// first one.
func OptBurst(burst int) RateLimitedLoggerOpt {
	return func(o *rateLimitedLoggerOpts) {
		o.burst = burst
	}
}

// OptLogger sets the underlying logger; defaults to the logrus standard logger.
func OptLogger(logger *log.Logger) RateLimitedLoggerOpt {
	return func(o *rateLimitedLoggerOpts) {
		o.logger = logger
	}
}

func optNow(now func() time.Time) RateLimitedLoggerOpt {
	return func(o *rateLimitedLoggerOpts) {
		o.now = now
	}
}

func NewRateLimitedLogger(opts ...RateLimitedLoggerOpt) *RateLimitedLogger {
	o := rateLimitedLoggerOpts{
		interval: defaultRateLimitInterval,
		logger:   log.StandardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &RateLimitedLogger{
		limiter: &rateLimiter{
			interval: o.interval,
			burst:    o.burst,
			now:      o.now,
		},
		entry: log.NewEntry(o.logger),
	}
}

func (l *RateLimitedLogger) WithField(key string, value interface{}) *RateLimitedLogger {
	return &RateLimitedLogger{limiter: l.limiter, entry: l.entry.WithField(key, value), force: l.force}
}

func (l *RateLimitedLogger) WithFields(fields log.Fields) *RateLimitedLogger {
	return &RateLimitedLogger{limiter: l.limiter, entry: l.entry.WithFields(fields), force: l.force}
}

func (l *RateLimitedLogger) WithError(err error) *RateLimitedLogger {
	return &RateLimitedLogger{limiter: l.limiter, entry: l.entry.WithError(err), force: l.force}
}

// Force returns a logger that always logs, without consuming the rate limit.
func (l *RateLimitedLogger) Force() *RateLimitedLogger {
	return &RateLimitedLogger{limiter: l.limiter, entry: l.entry, force: true}
}

func (l *RateLimitedLogger) Debug(args ...interface{})   { l.log(log.DebugLevel, args...) }
func (l *RateLimitedLogger) Info(args ...interface{})    { l.log(log.InfoLevel, args...) }
func (l *RateLimitedLogger) Print(args ...interface{})   { l.log(log.InfoLevel, args...) }
func (l *RateLimitedLogger) Warn(args ...interface{})    { l.log(log.WarnLevel, args...) }
func (l *RateLimitedLogger) Warning(args ...interface{}) { l.log(log.WarnLevel, args...) }
func (l *RateLimitedLogger) Error(args ...interface{})   { l.log(log.ErrorLevel, args...) }

func (l *RateLimitedLogger) Debugf(format string, args ...interface{}) {
	l.logf(log.DebugLevel, format, args...)
}

func (l *RateLimitedLogger) Infof(format string, args ...interface{}) {
	l.logf(log.InfoLevel, format, args...)
}

func (l *RateLimitedLogger) Printf(format string, args ...interface{}) {
	l.logf(log.InfoLevel, format, args...)
}

func (l *RateLimitedLogger) Warnf(format string, args ...interface{}) {
	l.logf(log.WarnLevel, format, args...)
}

func (l *RateLimitedLogger) Warningf(format string, args ...interface{}) {
	l.logf(log.WarnLevel, format, args...)
}

func (l *RateLimitedLogger) Errorf(format string, args ...interface{}) {
	l.logf(log.ErrorLevel, format, args...)
}

func (l *RateLimitedLogger) log(level log.Level, args ...interface{}) {
	if e := l.next(level); e != nil {
		e.Log(level, args...)
	}
}

func (l *RateLimitedLogger) logf(level log.Level, format string, args ...interface{}) {
	if e := l.next(level); e != nil {
		e.Logf(level, format, args...)
	}
}

// next returns the entry to log, decorated with the rate limiting fields, or
// nil if this log should be skipped.  Logs that the logger would drop because
// of their level do not count against the limit.
func (l *RateLimitedLogger) next(level log.Level) *log.Entry {
	if !l.entry.Logger.IsLevelEnabled(level) {
		return nil
	}
	fields, ok := l.limiter.allow(l.force)
	if !ok {
		return nil
	}
	if len(fields) == 0 {
		return l.entry
	}
	return l.entry.WithFields(fields)
}

func (r *rateLimiter) allow(force bool) (log.Fields, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := r.now()
	fields := log.Fields{}
	inInterval := now.Before(r.intervalEnd)

	switch {
	case force:
		if inInterval && r.remaining == 0 {
			fields[FieldNextLog] = r.intervalEnd
		}
		return fields, true
	case inInterval && r.remaining == 0:
		r.skipped++
		return nil, false
	case inInterval:
		r.remaining--
	default:
		if r.skipped > 0 {
			fields[FieldLogsSkipped] = r.skipped
		}
		r.skipped = 0
		r.intervalEnd = now.Add(r.interval)
		r.remaining = r.burst
	}
	if r.remaining == 0 {
		fields[FieldNextLog] = r.intervalEnd
	}
	return fields, true
}
