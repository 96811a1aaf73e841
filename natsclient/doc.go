// Package natsclient wraps a NATS connection with circuit breaker
// protection, reconnection callbacks and health monitoring.
//
// The circuit opens after a threshold of consecutive connect failures
// (default 5) and stays open for an exponentially growing backoff, so a
// publisher whose broker is down fails fast instead of blocking the
// adapter's flush.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("mtconnect-adapter"),
//	    natsclient.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Publish(ctx, "mtconnect.observations", data)
package natsclient
