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
	"bytes"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

// FileNameUnknown is logged in place of the file name when the caller
// could not be determined.
const FileNameUnknown = "<nil>"

const TimeFormat = "2006-01-02 15:04:05.000"

// ConfigureLogging installs our formatter on the standard logger, parses the
// given level and sends logs to stderr.
func ConfigureLogging(logLevel string) {
	log.SetReportCaller(true)
	log.SetFormatter(&Formatter{Component: "sbfilter"})
	log.SetLevel(SafeParseLogLevel(logLevel))
	log.SetOutput(os.Stderr)
}

// SafeParseLogLevel parses a string version of a logrus log level, defaulting
// to log.InfoLevel on failure.
func SafeParseLogLevel(logLevel string) log.Level {
	defaultedLevel := log.InfoLevel
	if logLevel != "" {
		parsedLevel, err := log.ParseLevel(logLevel)
		if err == nil {
			defaultedLevel = parsedLevel
		} else {
			log.WithField("raw level", logLevel).Warn(
				"Invalid log level, defaulting to info")
		}
	}
	return defaultedLevel
}

// Formatter formats logs as
//
//	2026-01-05 09:17:48.238 [INFO][85386] sbfilter/registry.go 434: Adding logical datapath datapath=...
//
// with the fields appended in sorted order.
type Formatter struct {
	// Component, if set, is prepended to the file name.
	Component string

	initOnce sync.Once
	infixes  []string
}

func (f *Formatter) init() {
	f.initOnce.Do(func() {
		f.infixes = make([]string, len(log.AllLevels))
		for _, level := range log.AllLevels {
			f.infixes[level] = f.computeInfix(level)
		}
	})
}

func (f *Formatter) computeInfix(level log.Level) string {
	infix := fmt.Sprintf(" [%s][%d] ", strings.ToUpper(level.String()), os.Getpid())
	if f.Component != "" {
		infix += f.Component + "/"
	}
	return infix
}

func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	f.init()

	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	b.WriteString(entry.Time.Format(TimeFormat))
	if int(entry.Level) < len(f.infixes) {
		b.WriteString(f.infixes[entry.Level])
	} else {
		b.WriteString(f.computeInfix(entry.Level))
	}
	if entry.Caller != nil {
		b.WriteString(path.Base(entry.Caller.File))
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(entry.Caller.Line))
	} else {
		b.WriteString(FileNameUnknown)
	}
	b.WriteString(": ")
	b.WriteString(entry.Message)
	appendKVsAndNewLine(b, entry.Data)

	return b.Bytes(), nil
}

// appendKVsAndNewLine writes the entry's KV pairs to the end of the buffer,
// followed by a newline.  Entries are written in sorted order.
func appendKVsAndNewLine(b *bytes.Buffer, data log.Fields) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')

		switch value := data[key].(type) {
		case string:
			b.WriteString(strconv.Quote(value))
		case error:
			b.WriteString(value.Error())
		case time.Time:
			b.WriteString(value.Format(TimeFormat))
		case fmt.Stringer:
			b.WriteString(value.String())
		default:
			_, _ = fmt.Fprintf(b, "%#v", value)
		}
	}
	b.WriteByte('\n')
}

// TestingTWriter adapts a *testing.T as a Writer so it can be used as a target
// for logrus.
type TestingTWriter struct {
	T *testing.T
}

func (l TestingTWriter) Write(p []byte) (n int, err error) {
	l.T.Helper()
	l.T.Log(strings.TrimRight(string(p), "\r\n"))
	return len(p), nil
}

// RedirectLogrusToTestingT redirects logrus output to the given testing.T.  It
// returns a func() that can be called to restore the original log output.
func RedirectLogrusToTestingT(t *testing.T) (cancel func()) {
	oldOut := log.StandardLogger().Out
	cancel = func() {
		log.SetOutput(oldOut)
	}
	log.SetOutput(TestingTWriter{T: t})
	return
}

var confForTestingOnce sync.Once

// ConfigureLoggingForTestingT configures logrus to write to the logger of the
// given testing.T and registers a cleanup to undo the redirection.
func ConfigureLoggingForTestingT(t *testing.T) {
	confForTestingOnce.Do(func() {
		log.SetFormatter(&Formatter{Component: "test"})
		log.SetLevel(log.DebugLevel)
	})
	t.Cleanup(RedirectLogrusToTestingT(t))
}
