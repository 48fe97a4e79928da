// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package csopts is the Options Normalizer (C1): it validates and
// canonicalizes caller-supplied change-stream arguments into the three
// option bags the Command Builder needs.
package csopts

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// FullDocument controls how updated documents are reported in update
// change events.
type FullDocument string

// Valid FullDocument settings.
const (
	FullDocumentDefault      FullDocument = "default"
	FullDocumentUpdateLookup FullDocument = "updateLookup"
)

// Args are the raw, caller-facing change-stream arguments (spec §3,
// ChangeStreamOptions) before normalization.
type Args struct {
	FullDocument         *FullDocument
	ResumeAfter          bson.Raw
	StartAfter           bson.Raw
	BatchSize            *int32
	MaxAwaitTime         *time.Duration
	Collation            bson.Raw
	StartAtOperationTime *bson.Timestamp
}

// StageOptions is the body of the $changeStream pipeline stage.
type StageOptions struct {
	FullDocument         FullDocument
	ResumeAfter          bson.Raw
	StartAfter           bson.Raw
	StartAtOperationTime *bson.Timestamp
}

// AggregateOptions are the top-level options sent only on the initial
// (or resumed) aggregate command.
type AggregateOptions struct {
	BatchSize *int32
	Collation bson.Raw
}

// GetMoreOptions are the options sent on every getMore.
type GetMoreOptions struct {
	BatchSize *int32
	MaxTimeMS *int64
}

// Normalized bundles the three option bags produced by normalization
// (spec §4.1).
type Normalized struct {
	Stage     StageOptions
	Aggregate AggregateOptions
	GetMore   GetMoreOptions
}

// InvalidOptionError is raised synchronously at construction time; no
// server contact has happened yet (spec §7).
type InvalidOptionError struct {
	Reason string
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("changestream: invalid option: %s", e.Reason)
}

// Normalize validates args and canonicalizes them into the three option
// bags the Command Builder (C2) consumes. It never contacts the server.
func Normalize(args *Args) (Normalized, error) {
	if args == nil {
		args = &Args{}
	}

	if args.ResumeAfter != nil && args.StartAfter != nil {
		return Normalized{}, &InvalidOptionError{Reason: "resumeAfter and startAfter are mutually exclusive"}
	}
	if (args.ResumeAfter != nil || args.StartAfter != nil) && args.StartAtOperationTime != nil {
		return Normalized{}, &InvalidOptionError{Reason: "startAtOperationTime cannot be combined with resumeAfter or startAfter"}
	}
	if args.BatchSize != nil && *args.BatchSize < 0 {
		return Normalized{}, &InvalidOptionError{Reason: "batchSize must be non-negative"}
	}
	if args.MaxAwaitTime != nil && *args.MaxAwaitTime < 0 {
		return Normalized{}, &InvalidOptionError{Reason: "maxAwaitTimeMS must be non-negative"}
	}

	fullDocument := FullDocumentDefault
	if args.FullDocument != nil {
		fullDocument = *args.FullDocument
	}

	n := Normalized{
		Stage: StageOptions{
			FullDocument:         fullDocument,
			ResumeAfter:          args.ResumeAfter,
			StartAfter:           args.StartAfter,
			StartAtOperationTime: args.StartAtOperationTime,
		},
		Aggregate: AggregateOptions{
			BatchSize: args.BatchSize,
			Collation: args.Collation,
		},
		GetMore: GetMoreOptions{
			BatchSize: args.BatchSize,
		},
	}
	if args.MaxAwaitTime != nil {
		ms := int64(*args.MaxAwaitTime / time.Millisecond)
		n.GetMore.MaxTimeMS = &ms
	}

	return n, nil
}
