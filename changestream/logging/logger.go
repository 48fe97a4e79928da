// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package logger is the subsystem's structured logger, adapted from the
// driver's internal logger down to the components a change stream
// actually emits from: the Controller's state transitions, the Cursor
// Driver's getMore/killCursors traffic, and the resume subroutine.
package logger

import (
	"os"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const logLevelEnvVar = "CHANGE_STREAM_LOG_LEVEL"
const maxDocumentLengthEnvVar = "CHANGE_STREAM_LOG_MAX_DOCUMENT_LENGTH"

// DefaultMaxDocumentLength is the default maximum length of a stringified
// BSON document in a log line, in bytes.
const DefaultMaxDocumentLength = 1000

// TruncationSuffix is appended to a truncated document string.
const TruncationSuffix = "..."

// Logger logs structured events from the change-stream subsystem to a
// logr.LogSink. A nil Sink makes every log call a no-op, matching the
// driver's "no sink configured" behavior.
type Logger struct {
	ComponentLevels   map[Component]Level
	Sink              logr.LogSink
	MaxDocumentLength uint
}

// New constructs a Logger. CHANGE_STREAM_LOG_MAX_DOCUMENT_LENGTH is always
// consulted for MaxDocumentLength. If sink is nil, CHANGE_STREAM_LOG_LEVEL
// is consulted too and, if it names a level other than off, the LogSink of
// a stderr stdr logger is used.
func New(sink logr.LogSink, levels map[Component]Level) *Logger {
	l := &Logger{
		ComponentLevels:   levels,
		Sink:              sink,
		MaxDocumentLength: selectMaxDocumentLength(),
	}
	if l.Sink == nil {
		if lvl, ok := envLevel(); ok {
			l.Sink = stdr.New(nil).GetSink()
			if l.ComponentLevels == nil {
				l.ComponentLevels = map[Component]Level{
					ComponentController: lvl,
					ComponentCursor:     lvl,
					ComponentResume:     lvl,
				}
			}
		}
	}
	return l
}

// Is reports whether level is enabled for component.
func (l *Logger) Is(level Level, component Component) bool {
	if l == nil {
		return false
	}
	return l.ComponentLevels[component] >= level
}

// Log emits a message for component at level, truncating any "command" or
// "reply" bson.Raw value in keysAndValues to MaxDocumentLength.
func (l *Logger) Log(level Level, component Component, msg string, keysAndValues ...interface{}) {
	if l == nil || l.Sink == nil || !l.Is(level, component) {
		return
	}
	l.Sink.Info(int(level)-DiffToInfo, msg, truncateDocuments(keysAndValues, l.MaxDocumentLength)...)
}

func truncateDocuments(kvs []interface{}, width uint) []interface{} {
	out := make([]interface{}, len(kvs))
	copy(out, kvs)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok || (key != "command" && key != "reply") {
			continue
		}
		raw, ok := out[i+1].(bson.Raw)
		if !ok {
			continue
		}
		out[i+1] = truncate(raw.String(), width)
	}
	return out
}

func truncate(s string, width uint) string {
	if uint(len(s)) <= width {
		return s
	}
	return s[:width] + TruncationSuffix
}

func selectMaxDocumentLength() uint {
	if v := os.Getenv(maxDocumentLengthEnvVar); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n != 0 {
			return uint(n)
		}
	}
	return DefaultMaxDocumentLength
}

func envLevel() (Level, bool) {
	v := os.Getenv(logLevelEnvVar)
	if v == "" {
		return LevelOff, false
	}
	lvl := ParseLevel(v)
	return lvl, lvl != LevelOff
}
