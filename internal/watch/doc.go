// Package watch defines the core types shared across the turmoil watcher:
// headlines, the persisted match record, cycle results, and the small
// interfaces (fetcher, extractor, stores, publisher, clock) the pipeline is
// composed from.
package watch
