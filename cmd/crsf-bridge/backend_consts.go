package main

import "time"

const (
	txQueueSize       = 1024 // capacity of async TX ring
	serialReadBufSize = 512  // per read() buffer; a few frames at 420 kbaud
	rxBackoffMin      = 20 * time.Millisecond
	rxBackoffMax      = 500 * time.Millisecond
	// snapshotEvery bounds how often the status snapshot is republished
	// while frames keep arriving.
	snapshotEvery = 50 * time.Millisecond
)
