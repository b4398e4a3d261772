// Package query mediates every access to the finance data store.
//
// Generated SQL passes through Validate (the safety gate) before each
// execution attempt. Executor runs accepted queries through a Runner with a
// bounded exponential backoff on transient failures and returns an Outcome:
// either ordered records or a Failure classified as ValidationRejection,
// TransientStoreFailure or PermanentStoreFailure.
package query
