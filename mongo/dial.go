// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"go.mongodb.org/changestream/changestream"
)

// opMsg is the wire protocol opcode for OP_MSG (MongoDB wire protocol
// section 4.3). The subsystem boundary places pooling, authentication,
// TLS and compression out of scope (spec §1); DialDeployment below opens a
// single, unpooled, unauthenticated connection adequate for the demo
// binary and for pointing the Cursor Driver at a real mongod in manual
// testing. It is not a replacement for a pooled topology with server
// selection.
const opMsg = 2013

const standaloneSectionKind = 0

var globalRequestID uint64

func nextRequestID() int32 {
	return int32(atomic.AddUint64(&globalRequestID, 1))
}

// singleConnDeployment implements Deployment over one TCP connection with
// no pooling, retry, or server selection: the Cursor Driver always talks
// to whatever mongod/mongos is on the other end.
type singleConnDeployment struct {
	mu   sync.Mutex
	conn net.Conn
}

// DialDeployment opens a single connection to the address named by the
// CHANGE_STREAM_ADDR environment variable (default localhost:27017). It
// exists to give the demo binary something real to run against; a
// production caller should instead adapt NewRPCClient's Deployment
// interface onto the driver's own pooled topology.
func DialDeployment(ctx context.Context) (Deployment, error) {
	addr := os.Getenv("CHANGE_STREAM_ADDR")
	if addr == "" {
		addr = "localhost:27017"
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("changestream: dial %s: %w", addr, err)
	}
	return &singleConnDeployment{conn: conn}, nil
}

// RoundTrip sends cmd as an OP_MSG with a single standalone-document
// section and returns the server's reply document. The returned wire
// version is always 0: this connection does not track the server's wire
// version, so error classification falls back to the resumable-code table.
//
// Read preference is accepted to satisfy the Deployment contract but is a
// no-op here: a single connection has no notion of server selection.
func (d *singleConnDeployment) RoundTrip(ctx context.Context, db string, cmd bsoncore.Document, _ *readpref.ReadPref) (bson.Raw, int32, error) {
	full, err := withDBElement(cmd, db)
	if err != nil {
		return nil, 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = d.conn.SetDeadline(deadline)
	} else {
		_ = d.conn.SetDeadline(time.Time{})
	}

	reqID := nextRequestID()
	if err := writeOpMsg(d.conn, reqID, full); err != nil {
		return nil, 0, err
	}
	reply, err := readOpMsg(d.conn)
	if err != nil {
		return nil, 0, err
	}
	return reply, 0, classifyOK(reply)
}

func withDBElement(cmd bsoncore.Document, db string) (bsoncore.Document, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = append(dst, cmd[4:len(cmd)-1]...) // elements, sans cmd's own length/terminator
	dst = bsoncore.AppendStringElement(dst, "$db", db)
	return bsoncore.AppendDocumentEnd(dst, idx)
}

// classifyOK decodes an ok:0 reply into a *changestream.ServerError so the
// Error Classifier can see it; the transport layer itself never returns
// errors for a reply it successfully read.
func classifyOK(reply bson.Raw) error {
	ok, err := reply.LookupErr("ok")
	if err != nil {
		return nil
	}
	if f, okVal := ok.DoubleOK(); okVal && f == 1 {
		return nil
	}
	if i, okVal := ok.Int32OK(); okVal && i == 1 {
		return nil
	}
	if i, okVal := ok.Int64OK(); okVal && i == 1 {
		return nil
	}

	srvErr := &changestream.ServerError{Document: reply}
	if code, lookupErr := reply.LookupErr("code"); lookupErr == nil {
		srvErr.Code, _ = code.Int32OK()
	}
	if msg, lookupErr := reply.LookupErr("errmsg"); lookupErr == nil {
		srvErr.Message, _ = msg.StringValueOK()
	}
	if labels, lookupErr := reply.LookupErr("errorLabels"); lookupErr == nil {
		if arr, isArr := labels.ArrayOK(); isArr {
			if values, verr := arr.Values(); verr == nil {
				for _, v := range values {
					if s, isStr := v.StringValueOK(); isStr {
						srvErr.Labels = append(srvErr.Labels, s)
					}
				}
			}
		}
	}
	return srvErr
}

func writeOpMsg(w io.Writer, requestID int32, doc bsoncore.Document) error {
	body := make([]byte, 0, len(doc)+5)
	body = binary.LittleEndian.AppendUint32(body, 0) // flagBits
	body = append(body, standaloneSectionKind)
	body = append(body, doc...)

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], uint32(16+len(body)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(requestID))
	binary.LittleEndian.PutUint32(header[8:12], 0)
	binary.LittleEndian.PutUint32(header[12:16], opMsg)

	_, err := w.Write(append(header, body...))
	return err
}

func readOpMsg(r io.Reader) (bson.Raw, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	msgLen := binary.LittleEndian.Uint32(header[0:4])
	if msgLen < 16 {
		return nil, errors.New("changestream: malformed wire message")
	}
	body := make([]byte, msgLen-16)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	if len(body) < 5 || body[4] != standaloneSectionKind {
		return nil, errors.New("changestream: unsupported OP_MSG section kind")
	}
	return bson.Raw(body[5:]), nil
}
