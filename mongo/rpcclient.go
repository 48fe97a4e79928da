// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"go.mongodb.org/changestream/changestream"
)

// Deployment is the narrow slice of a client's topology the change-stream
// subsystem needs: selecting a server honoring a read preference, and
// round-tripping one OP_MSG command against it. The single-connection
// deployment returned by DialDeployment satisfies it; a caller with its own
// pooled topology can adapt that topology onto this interface.
//
// This mirrors the old changeStream.runCommand's SelectServer/Connection
// pair, collapsed into one call because the subsystem (unlike the legacy
// changeStream) never needs the selected server's description or a
// held-open connection between commands.
type Deployment interface {
	RoundTrip(ctx context.Context, db string, cmd bsoncore.Document, rp *readpref.ReadPref) (bson.Raw, int32, error)
}

// ClusterClock advances a cluster time seen in a command reply, the way
// the legacy changeStream threaded clock/session state through every
// round trip. The change-stream subsystem has no notion of sessions, so
// only the clock survives here.
type ClusterClock interface {
	AdvanceClusterTime(bson.Raw)
}

// rpcClient adapts a Deployment to the changestream.RPCClient interface
// consumed by the ChangeStream controller, and additionally exposes
// WireVersion for callers that want wire-version-gated error
// classification (spec §4.3).
type rpcClient struct {
	deployment Deployment
	clock      ClusterClock

	lastWireVersion int32
}

// NewRPCClient builds the RPCClient collaborator the package's
// constructors wire into a ChangeStream, given a Deployment (for example
// one returned by DialDeployment) and an optional ClusterClock.
func NewRPCClient(deployment Deployment, clock ClusterClock) changestream.RPCClient {
	return &rpcClient{deployment: deployment, clock: clock}
}

func (c *rpcClient) RunCommand(ctx context.Context, db string, cmd bsoncore.Document, rp *readpref.ReadPref) (bson.Raw, error) {
	reply, wireVersion, err := c.deployment.RoundTrip(ctx, db, cmd, rp)
	c.lastWireVersion = wireVersion
	if err != nil {
		return nil, err
	}
	if c.clock != nil {
		if ct, ctErr := reply.LookupErr("$clusterTime"); ctErr == nil {
			if doc, ok := ct.DocumentOK(); ok {
				c.clock.AdvanceClusterTime(bson.Raw(doc))
			}
		}
	}
	return reply, nil
}

// KillCursor fires killCursors for the namespace, best-effort: any error
// is discarded, matching driver.KillCursors' fire-and-forget use from the
// legacy changeStream.Next.
func (c *rpcClient) KillCursor(ctx context.Context, ns changestream.Namespace, _ string, id int64) {
	cmd, err := buildKillCursors(ns.Collection, id)
	if err != nil {
		return
	}
	_, _, _ = c.deployment.RoundTrip(ctx, ns.DB, cmd, readpref.Primary())
}

// buildKillCursors constructs the killCursors command document. Kept as a
// standalone builder here, rather than reusing the Command Builder's
// equivalent, because that builder lives under the change-stream package's
// internal tree and is not importable from this sibling package.
func buildKillCursors(collection string, id int64) (bsoncore.Document, error) {
	arrIdx, arr := bsoncore.AppendArrayStart(nil)
	arr = bsoncore.AppendInt64Element(arr, "0", id)
	arr, err := bsoncore.AppendArrayEnd(arr, arrIdx)
	if err != nil {
		return nil, err
	}

	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "killCursors", collection)
	dst = bsoncore.AppendArrayElement(dst, "cursors", arr)
	return bsoncore.AppendDocumentEnd(dst, idx)
}

// WireVersion reports the max wire version observed on the connection the
// last command ran on. The Cursor Driver type-asserts for this optional
// capability to gate wire-version-sensitive error classification.
func (c *rpcClient) WireVersion() int32 {
	return c.lastWireVersion
}
