// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import "strings"

// DiffToInfo is the number of levels that come before "Info", kept so
// that Info maps to logr's 0th verbosity level, matching the convention
// go-logr/logr users expect.
const DiffToInfo = 1

// Level is an enumeration of the supported log severity levels.
type Level int

// Supported severities. The order is significant: Debug is more verbose
// than Info.
const (
	LevelOff Level = iota
	LevelInfo
	LevelDebug
)

// LevelLiteralMap maps the environment-variable literals this package
// accepts to a Level.
var LevelLiteralMap = map[string]Level{
	"off":   LevelOff,
	"error": LevelInfo,
	"warn":  LevelInfo,
	"info":  LevelInfo,
	"debug": LevelDebug,
	"trace": LevelDebug,
}

// ParseLevel returns the Level for a literal, defaulting to LevelOff for
// anything unrecognized.
func ParseLevel(str string) Level {
	for literal, level := range LevelLiteralMap {
		if strings.EqualFold(literal, str) {
			return level
		}
	}
	return LevelOff
}

// Component identifies which part of the change-stream subsystem emitted
// a log line.
type Component string

// Components the subsystem logs from.
const (
	ComponentController Component = "controller"
	ComponentCursor     Component = "cursor"
	ComponentResume     Component = "resume"
)
