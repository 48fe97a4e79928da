// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Command changestreamdemo watches a collection's change stream and logs
// every event it receives until interrupted, demonstrating the subsystem
// against a real RPCClient implementation.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-logr/stdr"

	"go.mongodb.org/changestream/changestream"
	logger "go.mongodb.org/changestream/changestream/logging"
	"go.mongodb.org/changestream/mongo"
)

func main() {
	db := flag.String("db", "test", "database to watch")
	coll := flag.String("collection", "", "collection to watch; omit to watch every collection in -db")
	logLevel := flag.String("log-level", "info", "off|info|debug")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deployment, err := mongo.DialDeployment(ctx)
	if err != nil {
		log.Fatalf("could not connect: %v", err)
	}
	client := mongo.NewRPCClient(deployment, nil)

	lvl := logger.ParseLevel(*logLevel)
	lg := logger.New(stdr.New(nil).GetSink(), map[logger.Component]logger.Level{
		logger.ComponentController: lvl,
		logger.ComponentCursor:     lvl,
		logger.ComponentResume:     lvl,
	})

	cfg := changestream.Config{
		Database:   *db,
		Collection: *coll,
		StreamType: streamTypeFor(*coll),
		Logger:     lg,
	}

	cs, err := changestream.New(ctx, client, cfg, nil)
	if err != nil {
		log.Fatalf("could not open change stream: %v", err)
	}
	defer cs.Close(ctx)

	for cs.Next(ctx) {
		var event map[string]interface{}
		if err := cs.Decode(&event); err != nil {
			log.Fatalf("could not decode event: %v", err)
		}
		log.Print(spew.Sdump(event))
	}
	if err := cs.Err(); err != nil {
		log.Fatalf("change stream errored: %v", err)
	}
}

func streamTypeFor(collection string) changestream.StreamType {
	if collection == "" {
		return changestream.DatabaseStream
	}
	return changestream.CollectionStream
}
