// Package results accumulates measurement results for a run.
//
// An Aggregator is append-only: a measurement is never changed after it is
// recorded. Statistics, speed classes and the per-device outcome table are
// derived on demand. Subscribers receive every record as it arrives, which
// is how the journal and the run history store are fed.
package results
