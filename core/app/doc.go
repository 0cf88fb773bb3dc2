// Package app runs the long-lived components of one process and shuts them
// down in a fixed order.
//
//	a := app.New(app.Config{Context: ctx, Log: log, Name: "kafka-publisher"})
//	a.Go("publisher", runner.Run)
//	a.OnClose("kafka", producer.Close)
//	a.OnClose("nats", store.Close)
//	return a.Run()
//
// When the context is cancelled, or a component fails, every component is
// cancelled and waited for, so that an in-flight handler can finish. Only
// then are the resources closed, in registration order.
package app
