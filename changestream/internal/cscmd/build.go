// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package cscmd is the Command Builder (C2): pure functions that
// materialize aggregate/getMore/killCursors wire documents from normalized
// options plus the current resume token. None of these functions perform
// I/O; they only build bsoncore.Document values.
package cscmd

import (
	"strconv"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"go.mongodb.org/changestream/changestream/internal/csopts"
)

// AggregateInput carries everything BuildAggregate needs. ResumeToken, when
// non-nil, always overrides any caller-provided resumeAfter/startAfter
// baked into Stage (spec §4.2: "If resume_token is supplied... it overrides
// any caller-provided resumeAfter").
type AggregateInput struct {
	Collection      string // empty for database- or client-level streams
	AllChangesForNS bool   // allChangesForCluster, set for client-wide streams
	Stage           csopts.StageOptions
	Aggregate       csopts.AggregateOptions
	UserPipeline    []bsoncore.Document
	ResumeToken     bson.Raw
}

// changeStreamStageDoc builds the body of the $changeStream stage.
func changeStreamStageDoc(in AggregateInput) (bsoncore.Document, error) {
	idx, doc := bsoncore.AppendDocumentStart(nil)

	if in.AllChangesForNS {
		doc = bsoncore.AppendBooleanElement(doc, "allChangesForCluster", true)
	}
	doc = bsoncore.AppendStringElement(doc, "fullDocument", string(in.Stage.FullDocument))

	switch {
	case in.ResumeToken != nil:
		doc = bsoncore.AppendDocumentElement(doc, "resumeAfter", bsoncore.Document(in.ResumeToken))
	case in.Stage.ResumeAfter != nil:
		doc = bsoncore.AppendDocumentElement(doc, "resumeAfter", bsoncore.Document(in.Stage.ResumeAfter))
	case in.Stage.StartAfter != nil:
		doc = bsoncore.AppendDocumentElement(doc, "startAfter", bsoncore.Document(in.Stage.StartAfter))
	case in.Stage.StartAtOperationTime != nil:
		t, i := in.Stage.StartAtOperationTime.T, in.Stage.StartAtOperationTime.I
		doc = bsoncore.AppendTimestampElement(doc, "startAtOperationTime", t, i)
	}

	return bsoncore.AppendDocumentEnd(doc, idx)
}

// pipelineDoc assembles the full pipeline array: the $changeStream stage is
// always first (spec invariant, tested by TestBuildAggregate_StageIsAlwaysFirst), followed by the
// caller's pipeline verbatim.
func pipelineDoc(stageDoc bsoncore.Document, userPipeline []bsoncore.Document) (bsoncore.Document, error) {
	idx, arr := bsoncore.AppendArrayStart(nil)

	csIdx, cs := bsoncore.AppendDocumentStart(nil)
	cs = bsoncore.AppendDocumentElement(cs, "$changeStream", stageDoc)
	cs, err := bsoncore.AppendDocumentEnd(cs, csIdx)
	if err != nil {
		return nil, err
	}
	arr = bsoncore.AppendDocumentElement(arr, "0", cs)

	for i, stage := range userPipeline {
		arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i+1), stage)
	}

	return bsoncore.AppendArrayEnd(arr, idx)
}

// BuildAggregate constructs the aggregate command document (spec §4.2,
// §6 wire shape). It is a pure function of its input.
func BuildAggregate(in AggregateInput) (bsoncore.Document, error) {
	stageDoc, err := changeStreamStageDoc(in)
	if err != nil {
		return nil, err
	}
	pipeline, err := pipelineDoc(stageDoc, in.UserPipeline)
	if err != nil {
		return nil, err
	}

	idx, dst := bsoncore.AppendDocumentStart(nil)
	if in.Collection != "" {
		dst = bsoncore.AppendStringElement(dst, "aggregate", in.Collection)
	} else {
		dst = bsoncore.AppendInt32Element(dst, "aggregate", 1)
	}
	dst = bsoncore.AppendArrayElement(dst, "pipeline", pipeline)

	cursorIdx, cursorDoc := bsoncore.AppendDocumentStart(nil)
	if in.Aggregate.BatchSize != nil {
		cursorDoc = bsoncore.AppendInt32Element(cursorDoc, "batchSize", *in.Aggregate.BatchSize)
	}
	cursorDoc, err = bsoncore.AppendDocumentEnd(cursorDoc, cursorIdx)
	if err != nil {
		return nil, err
	}
	dst = bsoncore.AppendDocumentElement(dst, "cursor", cursorDoc)

	if in.Aggregate.Collation != nil {
		dst = bsoncore.AppendDocumentElement(dst, "collation", bsoncore.Document(in.Aggregate.Collation))
	}

	return bsoncore.AppendDocumentEnd(dst, idx)
}

// GetMoreInput carries everything BuildGetMore needs.
type GetMoreInput struct {
	CursorID   int64
	Collection string
	Options    csopts.GetMoreOptions
}

// BuildGetMore constructs the getMore command document (spec §4.2, §6).
func BuildGetMore(in GetMoreInput) (bsoncore.Document, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt64Element(dst, "getMore", in.CursorID)
	dst = bsoncore.AppendStringElement(dst, "collection", in.Collection)
	if in.Options.BatchSize != nil {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", *in.Options.BatchSize)
	}
	if in.Options.MaxTimeMS != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", *in.Options.MaxTimeMS)
	}
	return bsoncore.AppendDocumentEnd(dst, idx)
}

// BuildKillCursors constructs the killCursors command document (spec §6).
// killCursors is always best-effort (spec §4.5/§7): callers discard the
// error.
func BuildKillCursors(collection string, ids []int64) (bsoncore.Document, error) {
	arrIdx, arr := bsoncore.AppendArrayStart(nil)
	for i, id := range ids {
		arr = bsoncore.AppendInt64Element(arr, strconv.Itoa(i), id)
	}
	arr, err := bsoncore.AppendArrayEnd(arr, arrIdx)
	if err != nil {
		return nil, err
	}

	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "killCursors", collection)
	dst = bsoncore.AppendArrayElement(dst, "cursors", arr)
	return bsoncore.AppendDocumentEnd(dst, idx)
}
