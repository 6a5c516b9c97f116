// Package txn builds the wire transactions sent to the query service and keeps
// the per-database version cache used for optimistic concurrency.
//
// Actions are built with the constructors in this package (QueryAction,
// InstallAction, ...), assembled by Builder.Build which stamps the last
// observed version, and every completed round trip is fed back through
// Builder.ApplyResponse, which only ever moves a version forward.
package txn
