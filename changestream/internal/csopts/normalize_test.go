// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package csopts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func int32p(v int32) *int32          { return &v }
func durp(d time.Duration) *time.Duration { return &d }

func TestNormalize(t *testing.T) {
	resumeToken := bson.Raw{0x05, 0x00, 0x00, 0x00, 0x00}
	startAfterToken := bson.Raw{0x05, 0x00, 0x00, 0x00, 0x00}
	opTime := &bson.Timestamp{T: 1, I: 1}

	for _, tc := range []struct {
		name    string
		args    *Args
		wantErr string
	}{
		{
			name: "nil args default FullDocument",
			args: nil,
		},
		{
			name: "resumeAfter and startAfter mutually exclusive",
			args: &Args{ResumeAfter: resumeToken, StartAfter: startAfterToken},
			wantErr: "resumeAfter and startAfter are mutually exclusive",
		},
		{
			name:    "resumeAfter with startAtOperationTime rejected",
			args:    &Args{ResumeAfter: resumeToken, StartAtOperationTime: opTime},
			wantErr: "startAtOperationTime cannot be combined with resumeAfter or startAfter",
		},
		{
			name:    "startAfter with startAtOperationTime rejected",
			args:    &Args{StartAfter: startAfterToken, StartAtOperationTime: opTime},
			wantErr: "startAtOperationTime cannot be combined with resumeAfter or startAfter",
		},
		{
			name:    "negative batchSize rejected",
			args:    &Args{BatchSize: int32p(-1)},
			wantErr: "batchSize must be non-negative",
		},
		{
			name:    "negative maxAwaitTime rejected",
			args:    &Args{MaxAwaitTime: durp(-time.Second)},
			wantErr: "maxAwaitTimeMS must be non-negative",
		},
		{
			name: "startAtOperationTime alone is valid",
			args: &Args{StartAtOperationTime: opTime},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				var invalid *InvalidOptionError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, tc.wantErr, invalid.Reason)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNormalize_Defaults(t *testing.T) {
	n, err := Normalize(&Args{})
	require.NoError(t, err)
	assert.Equal(t, FullDocumentDefault, n.Stage.FullDocument)
	assert.Nil(t, n.GetMore.MaxTimeMS)
}

func TestNormalize_FullDocumentPreserved(t *testing.T) {
	fd := FullDocumentUpdateLookup
	n, err := Normalize(&Args{FullDocument: &fd})
	require.NoError(t, err)
	assert.Equal(t, FullDocumentUpdateLookup, n.Stage.FullDocument)
}

func TestNormalize_MaxAwaitTimeConvertedToMillis(t *testing.T) {
	n, err := Normalize(&Args{MaxAwaitTime: durp(1500 * time.Millisecond)})
	require.NoError(t, err)
	require.NotNil(t, n.GetMore.MaxTimeMS)
	assert.EqualValues(t, 1500, *n.GetMore.MaxTimeMS)
}

func TestNormalize_BatchSizeThreadedToAggregateAndGetMore(t *testing.T) {
	n, err := Normalize(&Args{BatchSize: int32p(25)})
	require.NoError(t, err)
	require.NotNil(t, n.Aggregate.BatchSize)
	require.NotNil(t, n.GetMore.BatchSize)
	assert.EqualValues(t, 25, *n.Aggregate.BatchSize)
	assert.EqualValues(t, 25, *n.GetMore.BatchSize)
}
