// Package downloader holds the domain model of the bulk downloader: submissions,
// resources, hash records, the per-submission task state machine, and the
// interfaces the engine consumes from outside collaborators.
//
// The packages under internal/ build on these types:
//   - extractor resolves a submission to resources via a registry of descriptors.
//   - retry wraps a single fetch attempt with the wait/retry policy.
//   - hashstore persists digest to location mappings across runs.
//   - dedup decides, per retrieved resource, whether to write, link, or skip.
//   - worker drives one submission through the state machine.
//   - dispatcher fans submissions out sequentially or across a bounded pool.
package downloader
