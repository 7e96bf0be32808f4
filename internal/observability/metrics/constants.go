// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Operation labels recorded by the recorder pipeline.
const (
	// OpSessionStart is a recording session start.
	OpSessionStart = "session_start"
	// OpSessionStop is a normal end of session with the file finalised.
	OpSessionStop = "session_stop"
	// OpSessionAbort is an aborted session with the partial file removed.
	OpSessionAbort = "session_abort"
	// OpFeed is one buffer handed from the capture callback to the queue.
	OpFeed = "feed"
	// OpWrite is one buffer written to the WAV encoder.
	OpWrite = "write"
	// OpFinalize closes the encoder and rewrites the WAV header.
	OpFinalize = "finalize"
	// OpPlot is a waveform plot computation.
	OpPlot = "plot"
)

// Status labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusDropped = "dropped"
)

// Histogram bucket configuration constants.
const (
	// BucketStart100us is the starting bucket for 0.1ms histograms (0.1ms to ~400ms range).
	BucketStart100us = 0.0001
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~4s range).
	BucketStart1ms = 0.001
	// BucketStart1KB is the starting bucket for 1KB histograms.
	BucketStart1KB = 1024.0

	BucketFactor2 = 2

	BucketCount12 = 12
	BucketCount15 = 15
)

// ShutdownTimeout is the timeout for graceful shutdown of the metrics listener.
const ShutdownTimeout = 5 * time.Second
