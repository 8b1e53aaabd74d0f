// Package telemetry delivers tool invocation events to the ingestion API.
//
// A Client keeps an in-memory FIFO queue shared by every wrapped tool on a
// server. Events are sent in batches of at most BatchSize, either when the
// queue fills up, when the flush timer fires, or when the client is
// destroyed. Delivery never blocks a tool call and failed batches are
// dropped with a warning.
//
//	client, err := telemetry.NewClient(telemetry.DefaultConfig(),
//	    telemetry.WithLogger(logger),
//	    telemetry.WithRecorder(provider.Metrics()))
//	if err != nil {
//	    return err
//	}
//	defer client.Destroy()
package telemetry
