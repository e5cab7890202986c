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

package logutils_test

import (
	"bytes"
	"errors"
	"os"
	"runtime"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	log "github.com/sirupsen/logrus"

	. "github.com/projectcalico/sbfilter/logutils"
)

// A mock log formatter that simply serves to count log invocations.
type mockLogFormatter struct {
	count int
	entry *log.Entry
}

func (s *mockLogFormatter) Format(e *log.Entry) ([]byte, error) {
	s.count++
	s.entry = e
	return nil, nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

var _ = Describe("Formatter", func() {
	It("should format a log with caller and sorted fields", func() {
		f := &Formatter{Component: "sbfilter"}
		entry := &log.Entry{
			Time:    time.Date(2026, 1, 5, 9, 17, 48, 238000000, time.UTC),
			Level:   log.WarnLevel,
			Message: "duplicate logical port name",
			Data:    log.Fields{"name": "lsp1", "count": 2, "err": errors.New("boom")},
			Caller:  &runtime.Frame{File: "/src/lport/port_index.go", Line: 42},
		}
		out, err := f.Format(entry)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(HavePrefix("2026-01-05 09:17:48.238 [WARNING]["))
		Expect(string(out)).To(ContainSubstring("] sbfilter/port_index.go 42: duplicate logical port name"))
		Expect(string(out)).To(HaveSuffix(` count=2 err=boom name="lsp1"` + "\n"))
	})

	It("should tolerate a missing caller", func() {
		f := &Formatter{}
		out, err := f.Format(&log.Entry{Level: log.InfoLevel, Message: "hello"})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(ContainSubstring(FileNameUnknown + ": hello\n"))
	})
})

var _ = Describe("SafeParseLogLevel", func() {
	It("should parse valid levels", func() {
		Expect(SafeParseLogLevel("debug")).To(Equal(log.DebugLevel))
		Expect(SafeParseLogLevel("WARNING")).To(Equal(log.WarnLevel))
	})
	It("should default to info", func() {
		Expect(SafeParseLogLevel("")).To(Equal(log.InfoLevel))
		Expect(SafeParseLogLevel("loud")).To(Equal(log.InfoLevel))
	})
})

var _ = DescribeTable("Rate limited logging",
	func(expectedLevel log.Level, logfn func(logger *RateLimitedLogger)) {
		counter := &mockLogFormatter{}
		logrusLogger := &log.Logger{
			Out:       &bytes.Buffer{},
			Formatter: counter,
			Hooks:     make(log.LevelHooks),
			Level:     log.DebugLevel,
		}
		clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		logger := NewRateLimitedLogger(
			OptInterval(time.Minute),
			OptLogger(logrusLogger),
			OptNow(clock.Now),
		)
		logger = logger.WithField("a", 1)

		// Logs that are filtered out by level don't start an interval.
		if expectedLevel > log.ErrorLevel {
			logrusLogger.SetLevel(expectedLevel - 1)
			logfn(logger)
			Expect(counter.count).To(Equal(0))
			logrusLogger.SetLevel(log.DebugLevel)
		}

		// First log is written, and it is the last in its interval.
		logfn(logger.WithError(errors.New("error")))
		Expect(counter.count).To(Equal(1))
		Expect(counter.entry.Level).To(Equal(expectedLevel))
		Expect(counter.entry.Data).To(HaveKeyWithValue("a", 1))
		Expect(counter.entry.Data).To(HaveKey("error"))
		Expect(counter.entry.Data).To(HaveKey(FieldNextLog))
		Expect(counter.entry.Data).NotTo(HaveKey(FieldLogsSkipped))

		// Next two are skipped.
		logfn(logger)
		logfn(logger.WithField("b", 2))
		Expect(counter.count).To(Equal(1))

		// Forced logs always go out, without the skip count.
		logfn(logger.Force())
		Expect(counter.count).To(Equal(2))
		Expect(counter.entry.Data).To(HaveKey(FieldNextLog))
		Expect(counter.entry.Data).NotTo(HaveKey(FieldLogsSkipped))

		// After the interval, the next log reports what was skipped.
		clock.t = clock.t.Add(time.Minute)
		logfn(logger.WithFields(log.Fields{"b": 2, "c": "3"}))
		Expect(counter.count).To(Equal(3))
		Expect(counter.entry.Data).To(HaveKeyWithValue("b", 2))
		Expect(counter.entry.Data).To(HaveKeyWithValue("c", "3"))
		Expect(counter.entry.Data).To(HaveKeyWithValue(FieldLogsSkipped, 2))
	},
	Entry("Debug", log.DebugLevel, func(l *RateLimitedLogger) { l.Debug("log", "now") }),
	Entry("Info", log.InfoLevel, func(l *RateLimitedLogger) { l.Info("log", "now") }),
	Entry("Warn", log.WarnLevel, func(l *RateLimitedLogger) { l.Warn("log", "now") }),
	Entry("Warning", log.WarnLevel, func(l *RateLimitedLogger) { l.Warning("log", "now") }),
	Entry("Error", log.ErrorLevel, func(l *RateLimitedLogger) { l.Error("log", "now") }),
	Entry("Debugf", log.DebugLevel, func(l *RateLimitedLogger) { l.Debugf("log %s", "hello") }),
	Entry("Infof", log.InfoLevel, func(l *RateLimitedLogger) { l.Infof("log %s", "hello") }),
	Entry("Warnf", log.WarnLevel, func(l *RateLimitedLogger) { l.Warnf("log %s", "hello") }),
	Entry("Errorf", log.ErrorLevel, func(l *RateLimitedLogger) { l.Errorf("log %s", "hello") }),
)

var _ = Describe("Rate limited logging burst", func() {
	It("should allow the burst on top of the first log", func() {
		counter := &mockLogFormatter{}
		logrusLogger := &log.Logger{
			Out:       os.Stderr,
			Formatter: counter,
			Hooks:     make(log.LevelHooks),
			Level:     log.DebugLevel,
		}
		clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		logger := NewRateLimitedLogger(
			OptInterval(time.Minute),
			OptLogger(logrusLogger),
			OptBurst(2),
			OptNow(clock.Now),
		)

		for round := 0; round < 2; round++ {
			logger.Warn("first")
			Expect(counter.entry.Data).NotTo(HaveKey(FieldNextLog))
			if round == 0 {
				Expect(counter.entry.Data).NotTo(HaveKey(FieldLogsSkipped))
			} else {
				Expect(counter.entry.Data).To(HaveKeyWithValue(FieldLogsSkipped, 2))
			}
			logger.Warn("burst 1")
			Expect(counter.entry.Data).NotTo(HaveKey(FieldNextLog))
			logger.Warn("burst 2")
			Expect(counter.entry.Data).To(HaveKey(FieldNextLog))
			logger.Warn("skipped")
			logger.Warn("skipped")
			Expect(counter.count).To(Equal(3 * (round + 1)))
			clock.t = clock.t.Add(time.Minute)
		}
	})
})
