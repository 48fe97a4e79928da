// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package changestream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// TestConcurrentStreamsAreIndependent drives several ChangeStream values,
// each bound to its own RPCClient, concurrently. Spec §5 states distinct
// streams share no mutable state; this exercises that property under the
// race detector rather than merely asserting it in a comment.
func TestConcurrentStreamsAreIndependent(t *testing.T) {
	const n = 8
	ctx := context.Background()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			event := bson.D{{Key: "_id", Value: bson.D{{Key: "_data", Value: i}}}}
			client := &fakeRPCClient{steps: []step{
				{reply: aggregateOK(t, int64(1000+i), event)},
			}}
			cs, err := New(gctx, client, Config{Database: "db", Collection: "events"}, nil)
			if err != nil {
				return err
			}
			defer cs.Close(gctx)

			if !cs.TryNext(gctx) {
				return cs.Err()
			}
			if cs.ID() != int64(1000+i) {
				t.Errorf("stream %d: got cursor id %d", i, cs.ID())
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestConcurrentStreamsDoNotShareTracker(t *testing.T) {
	ctx := context.Background()
	makeStream := func(tag int) *ChangeStream {
		event := bson.D{{Key: "_id", Value: bson.D{{Key: "_data", Value: tag}}}}
		client := &fakeRPCClient{steps: []step{{reply: aggregateOK(t, 1, event)}}}
		cs, err := New(ctx, client, Config{Database: "db", Collection: "events"}, nil)
		require.NoError(t, err)
		return cs
	}

	a := makeStream(1)
	b := makeStream(2)

	require.True(t, a.TryNext(ctx))
	require.True(t, b.TryNext(ctx))

	assert.NotEqual(t, a.ResumeToken().String(), b.ResumeToken().String())
}
