// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package csbson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func mustMarshal(t *testing.T, v interface{}) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestExtractID(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		event := mustMarshal(t, bson.D{
			{Key: "_id", Value: bson.D{{Key: "_data", Value: "82..."}}},
			{Key: "operationType", Value: "insert"},
		})
		token, ok := ExtractID(event)
		require.True(t, ok)
		assert.NotEmpty(t, token)
	})

	t.Run("missing", func(t *testing.T) {
		event := mustMarshal(t, bson.D{{Key: "operationType", Value: "insert"}})
		_, ok := ExtractID(event)
		assert.False(t, ok)
	})

	t.Run("wrong type", func(t *testing.T) {
		event := mustMarshal(t, bson.D{{Key: "_id", Value: "not-a-document"}})
		_, ok := ExtractID(event)
		assert.False(t, ok)
	})
}

func TestEqual(t *testing.T) {
	a := mustMarshal(t, bson.D{{Key: "_data", Value: "x"}})
	b := mustMarshal(t, bson.D{{Key: "_data", Value: "x"}})
	c := mustMarshal(t, bson.D{{Key: "_data", Value: "y"}})

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
}
