// Package scheduler drives the payment engine on a clock.
//
// A Scheduler runs two loops: a daily run at Config.DailyHour that pays
// every ACTIVE contract due today, and a retry sweep every
// Config.RetryInterval that re-attempts RETRYING executions whose backoff
// has elapsed. A daily run is single-flight within the process; with a
// lease.Locker configured it is also exclusive across instances.
//
// Each contract and each retry runs through the engine's middleware chain,
// whose Recover middleware keeps one unit's panic from aborting the batch.
package scheduler
