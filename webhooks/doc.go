// Package webhooks delivers record events to subscribed HTTP endpoints.
//
// A Dispatcher fans one event out into one delivery task per enabled
// subscription. Each task runs through the Sender once per attempt:
// attempting -> success | retry_scheduled -> attempting | failed | skipped.
// Retries are explicit re-enqueues computed by a RetryPolicy, so a delivery
// never blocks a worker while it waits.
package webhooks
