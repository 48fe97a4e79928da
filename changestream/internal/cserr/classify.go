// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package cserr is the Error Classifier (C3): it maps a command outcome
// (a reply document or a transport-level error) to one of
// {ok, resumable, fatal}, per spec §4.3.
package cserr

import (
	"errors"
	"net"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// minResumableLabelWireVersion is the wire version at which the server
// started tagging resumable errors with the ResumableChangeStreamError
// label instead of requiring clients to keep a hardcoded code table.
const minResumableLabelWireVersion int32 = 9

const (
	networkErrorLabel  = "NetworkError"
	resumableErrorLabel = "ResumableChangeStreamError"
)

const errorCursorNotFound int32 = 43

// resumableChangeStreamErrors is the data-driven table of server error
// codes considered resumable on wire versions below
// minResumableLabelWireVersion (spec §4.3, §9: "keeps the resumable code
// set as a data table, not hard-coded branches").
var resumableChangeStreamErrors = map[int32]struct{}{
	6:     {}, // HostUnreachable
	7:     {}, // HostNotFound
	63:    {}, // StaleShardVersion
	89:    {}, // NetworkTimeout
	91:    {}, // ShutdownInProgress
	133:   {}, // FailedToSatisfyReadPreference
	150:   {}, // StaleEpoch
	189:   {}, // PrimarySteppedDown
	234:   {}, // RetryChangeStream
	262:   {}, // ExceededTimeLimit
	9001:  {}, // SocketException
	10107: {}, // NotMaster
	11600: {}, // InterruptedAtShutdown
	11602: {}, // InterruptedDueToReplStateChange
	13388: {}, // StaleConfig
	13435: {}, // NotMasterNoSecondaryOK
	13436: {}, // NotMasterOrSecondary
}

// ServerError is a server command error surfaced verbatim to the caller
// (spec §7 FatalServerError). Code/Message/Document/Labels come directly
// from the server's ok:0 reply.
type ServerError struct {
	Code     int32
	Message  string
	Document bson.Raw
	Labels   []string
}

func (e *ServerError) Error() string {
	return "changestream: server error " + e.Message
}

// HasErrorLabel reports whether label is present on the server error.
func (e *ServerError) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Outcome is the classification result (spec §4.3).
type Outcome int

// Possible classifications of a command outcome.
const (
	Ok Outcome = iota
	Resumable
	Fatal
)

// Classify maps a RunCommand result to {Ok, Resumable, Fatal}. wireVersion
// is the max wire version of the connection the command ran on, or 0 if
// unknown (treated as pre-label-support).
func Classify(reply bson.Raw, cmdErr error, wireVersion int32) (Outcome, error) {
	if cmdErr == nil {
		return Ok, nil
	}

	var netErr net.Error
	if errors.As(cmdErr, &netErr) {
		return Resumable, cmdErr
	}

	var srvErr *ServerError
	if !errors.As(cmdErr, &srvErr) {
		// Any other transport-layer outcome (hangup, connect failure,
		// context deadline not wrapped as net.Error) is resumable too:
		// the core only ever sees a decoded ServerError for replies
		// with ok:0; everything else came from the transport.
		return Resumable, cmdErr
	}

	if srvErr.Code == errorCursorNotFound {
		return Resumable, cmdErr
	}

	if wireVersion >= minResumableLabelWireVersion {
		if srvErr.HasErrorLabel(resumableErrorLabel) || srvErr.HasErrorLabel(networkErrorLabel) {
			return Resumable, cmdErr
		}
		return Fatal, cmdErr
	}

	if _, ok := resumableChangeStreamErrors[srvErr.Code]; ok {
		return Resumable, cmdErr
	}
	return Fatal, cmdErr
}
