// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package csbson holds the small BSON helpers the change-stream state
// machine needs: resume-token extraction and byte-level equality. It never
// interprets the structure of a token, only its presence and identity.
package csbson

import (
	"bytes"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ExtractID returns the "_id" field of a change event, which doubles as its
// resume token. ok is false if the field is absent, e.g. because a user
// pipeline stage projected it away.
func ExtractID(event bson.Raw) (token bson.Raw, ok bool) {
	val, err := event.LookupErr("_id")
	if err != nil {
		return nil, false
	}
	doc, ok := val.DocumentOK()
	if !ok {
		return nil, false
	}
	return bson.Raw(doc), true
}

// Equal reports whether two resume tokens are the same document by bytes.
// The subsystem never compares tokens any other way (spec: "opaque
// document... equality by document bytes").
func Equal(a, b bson.Raw) bool {
	return bytes.Equal([]byte(a), []byte(b))
}
