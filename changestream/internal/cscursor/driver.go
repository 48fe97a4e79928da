// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package cscursor is the Cursor Driver (C5): it owns one server-side
// cursor handle and one batch buffer, drives getMore batches, and exposes
// a pull primitive. It performs no resume logic of its own; it is a
// stateless pipe over one cursor (spec §4.5).
package cscursor

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"go.mongodb.org/changestream/changestream/internal/cscmd"
	"go.mongodb.org/changestream/changestream/internal/cserr"
	"go.mongodb.org/changestream/changestream/internal/csopts"
)

// Namespace identifies the database and collection backing a cursor.
type Namespace struct {
	DB         string
	Collection string
}

// RPCClient is the single collaborator the Cursor Driver (and the
// Controller) consume (spec §6). It is expected to perform server
// selection honoring the read preference, send the command, and return
// the raw reply or a transport error.
type RPCClient interface {
	RunCommand(ctx context.Context, db string, cmd bsoncore.Document, rp *readpref.ReadPref) (bson.Raw, error)
	KillCursor(ctx context.Context, ns Namespace, serverID string, id int64)
}

// WireVersioner is an optional capability an RPCClient may implement to
// report the max wire version of the connection the last command ran on,
// used by the Error Classifier's label-based resumable check (spec §4.3).
// An RPCClient that does not implement it is treated as pre-label-support
// and classification falls back to the resumable-code table.
type WireVersioner interface {
	WireVersion() int32
}

// PullKind is the outcome of a Pull call.
type PullKind int

// Possible Pull outcomes.
const (
	KindEvent PullKind = iota
	KindEndOfBatch
	KindResumable
	KindFatal
)

// PullResult is the result of a Pull call.
type PullResult struct {
	Kind  PullKind
	Event bson.Raw
	Err   error
}

// Driver owns one live CursorHandle and one BatchBuffer.
type Driver struct {
	client   RPCClient
	db       string
	ns       Namespace
	readPref *readpref.ReadPref

	cursorID       int64
	serverID       string
	buffer         []bson.Raw
	postBatchToken bson.Raw
}

// New constructs a Driver bound to the given RPC client, database, and
// pinned read preference. The read preference is captured once and reused
// for every command this Driver issues, including across Open calls made
// during a resume (spec Invariant 3).
func New(client RPCClient, db string, readPref *readpref.ReadPref) *Driver {
	return &Driver{client: client, db: db, readPref: readPref}
}

// ID returns the live server cursor id, or 0 if no cursor is open or the
// cursor has been exhausted/killed.
func (d *Driver) ID() int64 { return d.cursorID }

// PostBatchResumeToken returns the most recent post-batch resume token
// reported by the server, if any.
func (d *Driver) PostBatchResumeToken() bson.Raw { return d.postBatchToken }

func (d *Driver) wireVersion() int32 {
	if wv, ok := d.client.(WireVersioner); ok {
		return wv.WireVersion()
	}
	return 0
}

// Open sends the aggregate command and seeds the buffer from the first
// batch (spec §4.5 open). On success the Driver owns the new cursor
// handle; on failure no handle is installed. The returned Outcome lets the
// Controller distinguish a resumable open failure from a fatal one.
func (d *Driver) Open(ctx context.Context, collection string, cmd bsoncore.Document) (cserr.Outcome, error) {
	reply, cmdErr := d.client.RunCommand(ctx, d.db, cmd, d.readPref)
	outcome, err := cserr.Classify(reply, cmdErr, d.wireVersion())
	if outcome != cserr.Ok {
		return outcome, err
	}

	cursorVal, lookupErr := reply.LookupErr("cursor")
	if lookupErr != nil {
		return cserr.Fatal, lookupErr
	}
	cursorDoc := cursorVal.Document()

	id, _ := cursorDoc.Lookup("id").Int64OK()
	nsStr, _ := cursorDoc.Lookup("ns").StringValueOK()
	firstBatch, _ := cursorDoc.Lookup("firstBatch").ArrayOK()
	pbrt, _ := cursorDoc.Lookup("postBatchResumeToken").DocumentOK()

	batch, batchErr := decodeBatch(firstBatch)
	if batchErr != nil {
		return cserr.Fatal, batchErr
	}

	d.cursorID = id
	d.ns = Namespace{DB: d.db, Collection: collection}
	if nsStr != "" {
		d.ns.Collection = collectionFromNS(nsStr)
	}
	d.buffer = batch
	if pbrt != nil {
		d.postBatchToken = bson.Raw(pbrt)
	} else {
		d.postBatchToken = nil
	}
	return cserr.Ok, nil
}

// Pull returns the next event, EndOfBatch if the buffer is empty and the
// server has nothing more right now, or a Resumable/Fatal classification
// if a getMore failed (spec §4.5 pull).
func (d *Driver) Pull(ctx context.Context, opts csopts.GetMoreOptions) PullResult {
	if len(d.buffer) > 0 {
		event := d.buffer[0]
		d.buffer = d.buffer[1:]
		return PullResult{Kind: KindEvent, Event: event}
	}

	if d.cursorID == 0 {
		return PullResult{Kind: KindEndOfBatch}
	}

	cmd, buildErr := cscmd.BuildGetMore(cscmd.GetMoreInput{
		CursorID:   d.cursorID,
		Collection: d.ns.Collection,
		Options:    opts,
	})
	if buildErr != nil {
		return PullResult{Kind: KindFatal, Err: buildErr}
	}

	reply, cmdErr := d.client.RunCommand(ctx, d.db, cmd, d.readPref)
	outcome, err := cserr.Classify(reply, cmdErr, d.wireVersion())
	switch outcome {
	case cserr.Resumable:
		return PullResult{Kind: KindResumable, Err: err}
	case cserr.Fatal:
		return PullResult{Kind: KindFatal, Err: err}
	}

	cursorVal, lookupErr := reply.LookupErr("cursor")
	if lookupErr != nil {
		return PullResult{Kind: KindFatal, Err: lookupErr}
	}
	cursorDoc := cursorVal.Document()

	id, _ := cursorDoc.Lookup("id").Int64OK()
	nextBatch, _ := cursorDoc.Lookup("nextBatch").ArrayOK()
	pbrt, _ := cursorDoc.Lookup("postBatchResumeToken").DocumentOK()

	batch, batchErr := decodeBatch(nextBatch)
	if batchErr != nil {
		return PullResult{Kind: KindFatal, Err: batchErr}
	}

	d.cursorID = id
	d.buffer = batch
	if pbrt != nil {
		d.postBatchToken = bson.Raw(pbrt)
	}

	if len(d.buffer) == 0 {
		return PullResult{Kind: KindEndOfBatch}
	}
	event := d.buffer[0]
	d.buffer = d.buffer[1:]
	return PullResult{Kind: KindEvent, Event: event}
}

// Kill releases the live cursor, best-effort (spec §4.5 kill). Any reply
// or error from killCursors is ignored; the server's own TTL will reap the
// cursor regardless.
func (d *Driver) Kill(ctx context.Context) {
	if d.cursorID == 0 {
		return
	}
	id := d.cursorID
	ns := d.ns
	serverID := d.serverID
	d.cursorID = 0
	d.buffer = nil
	d.client.KillCursor(ctx, ns, serverID, id)
}

func decodeBatch(arr bson.RawArray) ([]bson.Raw, error) {
	if arr == nil {
		return nil, nil
	}
	values, err := arr.Values()
	if err != nil {
		return nil, err
	}
	batch := make([]bson.Raw, 0, len(values))
	for _, v := range values {
		doc, ok := v.DocumentOK()
		if !ok {
			continue
		}
		batch = append(batch, bson.Raw(doc))
	}
	return batch, nil
}

func collectionFromNS(ns string) string {
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[i+1:]
		}
	}
	return ns
}
