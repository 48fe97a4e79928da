// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package changestream is the Change-Stream Controller (C6): the
// top-level state machine composing the Options Normalizer, Command
// Builder, Error Classifier, Resume-Token Tracker and Cursor Driver into
// a resumable pull iterator over a remote database's change feed.
package changestream

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"go.mongodb.org/changestream/changestream/internal/cscmd"
	"go.mongodb.org/changestream/changestream/internal/cscursor"
	"go.mongodb.org/changestream/changestream/internal/cserr"
	"go.mongodb.org/changestream/changestream/internal/csopts"
	"go.mongodb.org/changestream/changestream/internal/cstoken"
	logger "go.mongodb.org/changestream/changestream/logging"
)

// StreamType represents the scope a change stream watches.
type StreamType uint8

// Valid StreamType values. A change stream can be opened over a single
// collection, every collection in a database, or an entire deployment.
const (
	CollectionStream StreamType = iota
	DatabaseStream
	ClientStream
)

// ErrMissingResumeToken indicates that a change-stream event did not
// contain a resume token.
var ErrMissingResumeToken = cstoken.ErrMissingResumeToken

// ErrNilCursor is returned by Decode when no event has been delivered yet
// (Current is nil).
var ErrNilCursor = errors.New("changestream: cursor is nil")

// RPCClient is the single collaborator the core consumes (spec §6): it
// runs a command against a server chosen to honor the given read
// preference, and issues a best-effort killCursors.
type RPCClient = cscursor.RPCClient

type state int

const (
	stateOpening state = iota
	stateIdle
	stateIterating
	stateResuming
	stateClosed
	stateErrored
)

// Config binds a ChangeStream to a namespace and deployment.
type Config struct {
	Database       string
	Collection     string // empty for DatabaseStream/ClientStream
	StreamType     StreamType
	ReadPreference *readpref.ReadPref
	Logger         *logger.Logger
}

// ChangeStream iterates over a resumable stream of change events. It is
// not safe for concurrent use by multiple goroutines (spec §5); distinct
// ChangeStream values may be driven concurrently against the same
// RPCClient.
type ChangeStream struct {
	client RPCClient
	cfg    Config

	normalized   csopts.Normalized
	userPipeline []bsoncore.Document

	tracker *cstoken.Tracker
	driver  *cscursor.Driver

	state state
	err   error

	// resumeSpent is true once a resume has been attempted without a
	// successful pull since. A resumable failure while it is already true
	// belongs to the same incident (spec §9 "one-shot resume scoping") and
	// is promoted to fatal instead of triggering another resume.
	resumeSpent bool

	// Current is the most recently delivered event's raw document. It is
	// only valid until the next call to Next/TryNext.
	Current bson.Raw
}

// New validates opts and constructs a ChangeStream bound to client and
// cfg. Construction performs the initial aggregate synchronously: the
// cursor is live by the time New returns, and if the aggregate (with its
// one retry on a resumable failure) fails, New returns that error and no
// stream — mirroring the driver's Watch() methods, which always run
// the aggregate before returning a cursor to iterate.
func New(ctx context.Context, client RPCClient, cfg Config, pipeline []bsoncore.Document, opts ...*Options) (*ChangeStream, error) {
	args, err := mergeArgs(opts...)
	if err != nil {
		return nil, err
	}
	normalized, err := csopts.Normalize(toNormalizeArgs(args))
	if err != nil {
		return nil, err
	}

	cs := &ChangeStream{
		client:       client,
		cfg:          cfg,
		normalized:   normalized,
		userPipeline: pipeline,
		tracker:      cstoken.New(seedToken(args)),
		driver:       cscursor.New(client, cfg.Database, cfg.ReadPreference),
		state:        stateOpening,
	}

	if err := cs.openWithOneShotResume(ctx, nil); err != nil {
		return nil, cs.Err()
	}
	return cs, nil
}

func seedToken(a *Args) bson.Raw {
	if a.StartAfter != nil {
		return a.StartAfter
	}
	return a.ResumeAfter
}

func (cs *ChangeStream) log(level logger.Level, component logger.Component, msg string, kv ...interface{}) {
	if cs.cfg.Logger != nil {
		cs.cfg.Logger.Log(level, component, msg, kv...)
	}
}

func (cs *ChangeStream) aggregateCommand(resumeToken bson.Raw) (bsoncore.Document, error) {
	return cscmd.BuildAggregate(cscmd.AggregateInput{
		Collection:      cs.cfg.Collection,
		AllChangesForNS: cs.cfg.StreamType == ClientStream,
		Stage:           cs.normalized.Stage,
		Aggregate:       cs.normalized.Aggregate,
		UserPipeline:    cs.userPipeline,
		ResumeToken:     resumeToken,
	})
}

// openWithOneShotResume opens (or reopens) the cursor. If the first
// attempt fails Resumable, it runs the resume subroutine exactly once
// (spec §4.6 "at most one automatic resume attempt per failure"); a
// second consecutive Resumable failure is promoted to Fatal.
func (cs *ChangeStream) openWithOneShotResume(ctx context.Context, resumeToken bson.Raw) error {
	cmd, err := cs.aggregateCommand(resumeToken)
	if err != nil {
		cs.latch(err)
		return err
	}

	outcome, openErr := cs.driver.Open(ctx, cs.cfg.Collection, cmd)
	cs.log(logger.LevelDebug, logger.ComponentController, "aggregate", "command", bson.Raw(cmd))

	switch outcome {
	case cserr.Ok:
		cs.state = stateIterating
		return nil
	case cserr.Fatal:
		cs.latch(openErr)
		return openErr
	case cserr.Resumable:
		cs.log(logger.LevelInfo, logger.ComponentResume, "resumable error on open, retrying once", "error", openErr)
		cmd2, err := cs.aggregateCommand(cs.tracker.Current())
		if err != nil {
			cs.latch(err)
			return err
		}
		outcome2, err2 := cs.driver.Open(ctx, cs.cfg.Collection, cmd2)
		if outcome2 != cserr.Ok {
			// Either a second resumable failure (retry budget exhausted,
			// promoted to fatal) or a fatal error on the retry itself.
			cs.latch(err2)
			return err2
		}
		cs.state = stateIterating
		return nil
	}
	return nil
}

// resume runs the single resume subroutine for an in-flight cursor (spec
// §4.6): best-effort kill of the dead cursor, then one reopen attempt
// using the tracker's current token. Unlike openWithOneShotResume (used
// at construction, where there is no live cursor yet), this always kills
// first. The caller must have already checked resumeSpent.
func (cs *ChangeStream) resume(ctx context.Context) error {
	cs.state = stateResuming
	cs.resumeSpent = true
	cs.driver.Kill(ctx) // best-effort; any failure is swallowed (spec §7)

	cmd, err := cs.aggregateCommand(cs.tracker.Current())
	if err != nil {
		cs.latch(err)
		return err
	}
	outcome, openErr := cs.driver.Open(ctx, cs.cfg.Collection, cmd)
	if outcome != cserr.Ok {
		// The reopen itself failing is not eligible for another resume:
		// resumable or fatal, it surfaces as a fatal error from this call.
		cs.latch(openErr)
		return openErr
	}
	cs.state = stateIterating
	return nil
}

func (cs *ChangeStream) latch(err error) {
	if err == nil {
		return
	}
	cs.err = err
	cs.state = stateErrored
}

// TryNext attempts to get the next event. It issues at most one getMore
// and, if that getMore fails resumably, one killCursors and one aggregate
// (spec §5 "Suspension points"). It returns false if no event is available
// yet, the stream errored, or the cursor is exhausted; Err reports the
// error case, and ID returns 0 once the cursor is exhausted.
func (cs *ChangeStream) TryNext(ctx context.Context) bool {
	if cs.state == stateErrored || cs.state == stateClosed {
		return false
	}

	res := cs.driver.Pull(ctx, cs.normalized.GetMore)
	switch res.Kind {
	case cscursor.KindEvent:
		if err := cs.tracker.Observe(res.Event); err != nil {
			cs.latch(err)
			return false
		}
		cs.resumeSpent = false
		cs.Current = res.Event
		cs.state = stateIterating
		return true
	case cscursor.KindEndOfBatch:
		if pbrt := cs.driver.PostBatchResumeToken(); pbrt != nil {
			cs.tracker.AdoptPostBatchToken(pbrt)
		}
		cs.resumeSpent = false
		cs.state = stateIdle
		return false
	case cscursor.KindResumable:
		if cs.resumeSpent {
			// Same incident as the last resume attempt, which has not
			// yet been followed by a successful pull: no fresh budget.
			cs.latch(res.Err)
			return false
		}
		if err := cs.resume(ctx); err != nil {
			return false
		}
		return false
	default: // KindFatal
		cs.latch(res.Err)
		return false
	}
}

// Next behaves like TryNext but loops until an event is available, the
// stream errors, the cursor is exhausted (ID returns 0), or ctx is done.
// Each iteration is one TryNext call; Next adds no client-side delay between iterations, relying
// on the server to block up to max_await_time_ms when the caller set it
// (spec §4.6 "End-of-data semantics").
func (cs *ChangeStream) Next(ctx context.Context) bool {
	for {
		if cs.TryNext(ctx) {
			return true
		}
		if cs.Err() != nil {
			return false
		}
		if cs.ID() == 0 {
			return false
		}
		select {
		case <-ctx.Done():
			cs.latch(ctx.Err())
			return false
		default:
		}
	}
}

// ID returns the server cursor id backing this stream, or 0 if no cursor
// is currently live.
func (cs *ChangeStream) ID() int64 {
	return cs.driver.ID()
}

// Decode unmarshals Current into val.
func (cs *ChangeStream) Decode(val interface{}) error {
	if cs.Current == nil {
		return ErrNilCursor
	}
	return bson.Unmarshal(cs.Current, val)
}

// Err returns the latched error, if any. Once non-nil, every subsequent
// call to Next/TryNext returns false without contacting the server (spec
// §4.6/§7: "Once a stream is Errored, subsequent next() returns the same
// latched error without I/O").
func (cs *ChangeStream) Err() error {
	return cs.err
}

// ResumeToken returns the last cached resume token, or nil if none has
// been observed yet.
func (cs *ChangeStream) ResumeToken() bson.Raw {
	return cs.tracker.Current()
}

// Close releases the underlying cursor (best-effort kill) and transitions
// the stream to Closed. Close is idempotent.
func (cs *ChangeStream) Close(ctx context.Context) error {
	if cs.state == stateClosed {
		return nil
	}
	cs.driver.Kill(ctx)
	cs.state = stateClosed
	return nil
}
