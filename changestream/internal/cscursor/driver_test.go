// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package cscursor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"go.mongodb.org/changestream/changestream/internal/cserr"
	"go.mongodb.org/changestream/changestream/internal/csopts"
)

type fakeClient struct {
	replies []fakeReply
	calls   int
	killed  []int64
}

type fakeReply struct {
	doc bson.Raw
	err error
}

func (f *fakeClient) RunCommand(ctx context.Context, db string, cmd bsoncore.Document, rp *readpref.ReadPref) (bson.Raw, error) {
	r := f.replies[f.calls]
	f.calls++
	return r.doc, r.err
}

func (f *fakeClient) KillCursor(ctx context.Context, ns Namespace, serverID string, id int64) {
	f.killed = append(f.killed, id)
}

func aggregateReply(t *testing.T, cursorID int64, events ...bson.D) bson.Raw {
	t.Helper()
	batch := bson.A{}
	for _, e := range events {
		batch = append(batch, e)
	}
	raw, err := bson.Marshal(bson.D{
		{Key: "ok", Value: 1},
		{Key: "cursor", Value: bson.D{
			{Key: "id", Value: cursorID},
			{Key: "ns", Value: "db.events"},
			{Key: "firstBatch", Value: batch},
		}},
	})
	require.NoError(t, err)
	return raw
}

func getMoreReply(t *testing.T, cursorID int64, events ...bson.D) bson.Raw {
	t.Helper()
	batch := bson.A{}
	for _, e := range events {
		batch = append(batch, e)
	}
	raw, err := bson.Marshal(bson.D{
		{Key: "ok", Value: 1},
		{Key: "cursor", Value: bson.D{
			{Key: "id", Value: cursorID},
			{Key: "nextBatch", Value: batch},
		}},
	})
	require.NoError(t, err)
	return raw
}

func TestDriver_OpenSeedsBufferFromFirstBatch(t *testing.T) {
	event := bson.D{{Key: "_id", Value: bson.D{{Key: "_data", Value: "a"}}}}
	client := &fakeClient{replies: []fakeReply{{doc: aggregateReply(t, 123, event)}}}
	d := New(client, "db", readpref.Primary())

	outcome, err := d.Open(context.Background(), "events", bsoncore.Document{})
	require.NoError(t, err)
	assert.Equal(t, cserr.Ok, outcome)
	assert.EqualValues(t, 123, d.ID())

	res := d.Pull(context.Background(), csopts.GetMoreOptions{})
	assert.Equal(t, KindEvent, res.Kind)
}

func TestDriver_PullEmptyBufferEndOfBatch(t *testing.T) {
	client := &fakeClient{replies: []fakeReply{
		{doc: aggregateReply(t, 0)}, // cursor id 0: exhausted on open
	}}
	d := New(client, "db", readpref.Primary())
	_, err := d.Open(context.Background(), "events", bsoncore.Document{})
	require.NoError(t, err)

	res := d.Pull(context.Background(), csopts.GetMoreOptions{})
	assert.Equal(t, KindEndOfBatch, res.Kind)
}

func TestDriver_PullIssuesGetMoreWhenBufferDrained(t *testing.T) {
	firstEvent := bson.D{{Key: "_id", Value: bson.D{{Key: "_data", Value: "a"}}}}
	secondEvent := bson.D{{Key: "_id", Value: bson.D{{Key: "_data", Value: "b"}}}}
	client := &fakeClient{replies: []fakeReply{
		{doc: aggregateReply(t, 123, firstEvent)},
		{doc: getMoreReply(t, 123, secondEvent)},
	}}
	d := New(client, "db", readpref.Primary())
	_, err := d.Open(context.Background(), "events", bsoncore.Document{})
	require.NoError(t, err)

	first := d.Pull(context.Background(), csopts.GetMoreOptions{})
	require.Equal(t, KindEvent, first.Kind)

	second := d.Pull(context.Background(), csopts.GetMoreOptions{})
	require.Equal(t, KindEvent, second.Kind)
	assert.Equal(t, 2, client.calls)
}

func aggregateReplyWithPBRT(t *testing.T, cursorID int64, pbrt bson.D) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(bson.D{
		{Key: "ok", Value: 1},
		{Key: "cursor", Value: bson.D{
			{Key: "id", Value: cursorID},
			{Key: "ns", Value: "db.events"},
			{Key: "firstBatch", Value: bson.A{}},
			{Key: "postBatchResumeToken", Value: pbrt},
		}},
	})
	require.NoError(t, err)
	return raw
}

// TestDriver_OpenSurfacesPostBatchResumeToken covers the
// original_source-derived supplement (a post-batch token on an otherwise
// empty batch): the Driver must expose it even though nothing was
// delivered, so the Controller's Tracker can adopt it.
func TestDriver_OpenSurfacesPostBatchResumeToken(t *testing.T) {
	pbrt := bson.D{{Key: "_data", Value: "pbrt-token"}}
	client := &fakeClient{replies: []fakeReply{{doc: aggregateReplyWithPBRT(t, 123, pbrt)}}}
	d := New(client, "db", readpref.Primary())

	_, err := d.Open(context.Background(), "events", bsoncore.Document{})
	require.NoError(t, err)

	assert.NotNil(t, d.PostBatchResumeToken())
}

func TestDriver_KillIsNoOpWithoutLiveCursor(t *testing.T) {
	client := &fakeClient{}
	d := New(client, "db", readpref.Primary())
	d.Kill(context.Background())
	assert.Empty(t, client.killed)
}

func TestDriver_KillFiresKillCursorAndResetsState(t *testing.T) {
	event := bson.D{{Key: "_id", Value: bson.D{{Key: "_data", Value: "a"}}}}
	client := &fakeClient{replies: []fakeReply{{doc: aggregateReply(t, 123, event)}}}
	d := New(client, "db", readpref.Primary())
	_, err := d.Open(context.Background(), "events", bsoncore.Document{})
	require.NoError(t, err)

	d.Kill(context.Background())
	assert.EqualValues(t, 0, d.ID())
	assert.Equal(t, []int64{123}, client.killed)
}
