// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package changestream

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"go.mongodb.org/changestream/changestream/internal/csopts"
)

// FullDocument controls how updated documents are reported in update
// change events.
type FullDocument = csopts.FullDocument

// Valid FullDocument settings.
const (
	FullDocumentDefault      = csopts.FullDocumentDefault
	FullDocumentUpdateLookup = csopts.FullDocumentUpdateLookup
)

// Args are the caller-facing change-stream options (spec §3,
// ChangeStreamOptions). Once a stream opens, the merged Args are immutable
// for its lifetime, including across resumes.
type Args struct {
	FullDocument         *FullDocument
	ResumeAfter          bson.Raw
	StartAfter           bson.Raw
	BatchSize            *int32
	MaxAwaitTime         *time.Duration
	Collation            bson.Raw
	StartAtOperationTime *bson.Timestamp
}

// Options configures a New call. It follows the driver's standard
// functional-options pattern: each SetXxx call appends a setter that is
// applied, in order, to an Args zero value at New time.
type Options struct {
	Opts []func(*Args) error
}

// ChangeStreamOptions constructs a new, empty Options.
func ChangeStreamOptions() *Options {
	return &Options{}
}

// ArgsSetters returns the setter functions accumulated on this Options.
func (o *Options) ArgsSetters() []func(*Args) error {
	return o.Opts
}

// SetFullDocument sets the FullDocument field.
func (o *Options) SetFullDocument(fd FullDocument) *Options {
	o.Opts = append(o.Opts, func(args *Args) error {
		args.FullDocument = &fd
		return nil
	})
	return o
}

// SetResumeAfter sets the ResumeAfter field.
func (o *Options) SetResumeAfter(token bson.Raw) *Options {
	o.Opts = append(o.Opts, func(args *Args) error {
		args.ResumeAfter = token
		return nil
	})
	return o
}

// SetStartAfter sets the StartAfter field.
func (o *Options) SetStartAfter(token bson.Raw) *Options {
	o.Opts = append(o.Opts, func(args *Args) error {
		args.StartAfter = token
		return nil
	})
	return o
}

// SetBatchSize sets the BatchSize field.
func (o *Options) SetBatchSize(size int32) *Options {
	o.Opts = append(o.Opts, func(args *Args) error {
		args.BatchSize = &size
		return nil
	})
	return o
}

// SetMaxAwaitTime sets the MaxAwaitTime field.
func (o *Options) SetMaxAwaitTime(d time.Duration) *Options {
	o.Opts = append(o.Opts, func(args *Args) error {
		args.MaxAwaitTime = &d
		return nil
	})
	return o
}

// SetCollation sets the Collation field.
func (o *Options) SetCollation(collation bson.Raw) *Options {
	o.Opts = append(o.Opts, func(args *Args) error {
		args.Collation = collation
		return nil
	})
	return o
}

// SetStartAtOperationTime sets the StartAtOperationTime field.
func (o *Options) SetStartAtOperationTime(t *bson.Timestamp) *Options {
	o.Opts = append(o.Opts, func(args *Args) error {
		args.StartAtOperationTime = t
		return nil
	})
	return o
}

// mergeArgs applies every setter from every Options, in order, to a fresh
// Args value, matching the driver's MergeChangeStreamOptions pattern.
func mergeArgs(opts ...*Options) (*Args, error) {
	args := &Args{}
	for _, o := range opts {
		if o == nil {
			continue
		}
		for _, setter := range o.ArgsSetters() {
			if setter == nil {
				continue
			}
			if err := setter(args); err != nil {
				return nil, err
			}
		}
	}
	return args, nil
}

func toNormalizeArgs(a *Args) *csopts.Args {
	return &csopts.Args{
		FullDocument:         a.FullDocument,
		ResumeAfter:          a.ResumeAfter,
		StartAfter:           a.StartAfter,
		BatchSize:            a.BatchSize,
		MaxAwaitTime:         a.MaxAwaitTime,
		Collation:            a.Collation,
		StartAtOperationTime: a.StartAtOperationTime,
	}
}
