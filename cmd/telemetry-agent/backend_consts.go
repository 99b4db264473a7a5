package main

import "time"

const (
	serialReadBufSize = 4096 // per read() buffer for the serial backend
	rxBackoffMin      = 20 * time.Millisecond
	rxBackoffMax      = 500 * time.Millisecond
)
