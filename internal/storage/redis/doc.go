// Package redis stores per-user session state in Redis hashes so several
// daemons can share notes and scratch values while the approval ledger stays
// in the relational backend.
package redis
