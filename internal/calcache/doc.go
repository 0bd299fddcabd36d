// Package calcache persists calibration results between runs so a restart
// inside the freshness window can skip the full calibration sweep.
//
// Entries carry their creation time and TTL inside the persisted record;
// freshness never depends on filesystem metadata, which survives file copies
// and touches. Mutations take an advisory flock so concurrent coordinator
// instances serialize writes; the policy is last-writer-wins.
package calcache
