// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package changestream

import (
	"go.mongodb.org/changestream/changestream/internal/cscursor"
	"go.mongodb.org/changestream/changestream/internal/cserr"
	"go.mongodb.org/changestream/changestream/internal/csopts"
)

// InvalidOptionError is returned by New when the supplied Options
// fail validation (spec §7). It never involves server contact.
type InvalidOptionError = csopts.InvalidOptionError

// ServerError wraps a decoded ok:0 command reply (spec §4.3/§7). Code is
// the server's error code; Labels are the reply's errorLabels, used by
// the error classifier to detect ResumableChangeStreamError on servers
// that support it.
type ServerError = cserr.ServerError

// Namespace identifies the database and collection a cursor is bound to,
// passed to RPCClient.KillCursor. Exported here so an external RPCClient
// implementation (outside this module's internal tree) can be written
// against it.
type Namespace = cscursor.Namespace
