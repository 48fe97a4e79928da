// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package cstoken is the Resume-Token Tracker (C4): it maintains the "last
// seen" resume token across batches and resumes, and enforces the
// missing-token invariant (spec §4.4).
package cstoken

import (
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"

	"go.mongodb.org/changestream/changestream/internal/csbson"
)

// ErrMissingResumeToken indicates that a delivered change event did not
// contain a resume token. This can happen when a user pipeline stage
// strips "_id" (e.g. a $project that excludes it); resumption would then
// be impossible, so the stream must not continue.
var ErrMissingResumeToken = errors.New("changestream: cannot provide resume functionality when the resume token is missing")

// Tracker holds the current resume token. Per event, it is updated only
// when the event is delivered to the caller, never merely on receipt into
// a batch buffer (spec Invariant 2); AdoptPostBatchToken is the one other
// way it changes.
type Tracker struct {
	current bson.Raw
}

// New constructs a Tracker, optionally seeded from a caller-supplied
// resume_after/start_after token (spec §3: "from-caller" provenance).
func New(seed bson.Raw) *Tracker {
	return &Tracker{current: seed}
}

// Current returns the most recent token recorded by Observe or
// AdoptPostBatchToken, or the seed token if neither has recorded one yet.
// It is nil only if the stream opened with no resume token at all
// ("none-yet" provenance) and nothing has been recorded since.
func (t *Tracker) Current() bson.Raw {
	return t.current
}

// Observe records the resume token for an event about to be delivered to
// the caller. It must be called exactly once per delivered event, never
// for events that are received into a buffer and then discarded due to an
// error.
func (t *Tracker) Observe(event bson.Raw) error {
	token, ok := csbson.ExtractID(event)
	if !ok {
		return ErrMissingResumeToken
	}
	t.current = token
	return nil
}

// AdoptPostBatchToken adopts a server-supplied post-batch resume token
// when no per-event token update has superseded it. Callers must only
// invoke this for an empty batch (spec SPEC_FULL §6 "postBatchResumeToken"
// supplement) — the per-event rule in Observe always takes precedence
// once any event is delivered.
func (t *Tracker) AdoptPostBatchToken(pbrt bson.Raw) {
	if pbrt != nil {
		t.current = pbrt
	}
}
