/*
Package measurement orchestrates a full broadband measurement run and
aggregates its outputs into a single immutable result.

State Machine:

A run walks a fixed sequence of stages:

	Idle -> Discovering -> Probing -> Selecting -> MeasuringDownload
	     -> MeasuringUpload -> Aggregating -> Done

A terminal Failed state is reachable from every stage. Each stage's failure
moves the machine to Failed carrying the originating error; cancellation at
any point surfaces as ErrCancelled and tears down in-flight connections and
probes promptly.

Usage:

	svc := measurement.NewService(nil, measurement.Config{
		DirectoryURL:   "https://directory.example.net/servers",
		OverallTimeout: 2 * time.Minute,
	}, logger)
	svc.OnProgress(func(state measurement.State, msg string) {
		fmt.Println(state, msg)
	})
	result, err := svc.Run(ctx)

Each Service instance performs exactly one run; construct a new one per run.
This keeps independent runs (including tests) free of shared state.

Error Policy:

Per-probe and per-stream failures are absorbed into statistics (loss ratio,
partial byte counts) by the prober and throughput packages. Only failures
that leave a stage with zero usable data propagate here and terminate the
run. A degraded-but-successful run is reported as success with the lower
measured numbers: partial failure is data, not an error.
*/
package measurement
