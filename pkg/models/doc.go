/*
Package models defines the core data structures shared by the broadband-tester
engine and its collaborators.

Core Types:

Server represents one candidate measurement server, as fetched from the
directory:

	server := models.Server{
		ID:      42,
		Host:    "speed1.example.net",
		Port:    8080,
		Name:    "Example City",
		Country: "DE",
		Secure:  true,
	}

ProbeSample is a single round-trip probe attempt against a server. A sequence
of samples for one server is reduced to LatencyStats, where jitter is the mean
absolute difference between consecutive successful round-trip times and the
loss ratio is failed/total attempts. All-failed sequences carry a loss ratio
of 1.0 and NaN timing fields.

ThroughputResult holds one direction of a transfer measurement. Mbps is always
derived as bytes*8/(elapsed*1e6) over the shared steady-state window, never
averaged per stream.

MeasurementResult combines everything from one run:

	result := models.MeasurementResult{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Server:    server,
		Latency:   stats,
		Download:  download,
		Upload:    upload,
		Client:    models.ClientInfo{IP: "203.0.113.9", ISP: "ExampleNet"},
	}

Lifecycle:

All entities are created fresh per run and handed to the aggregator or the
history collaborators; no cross-run shared mutable state exists. The model
structures themselves are not thread-safe; workers exchange them only as
completed, immutable values.
*/
package models
