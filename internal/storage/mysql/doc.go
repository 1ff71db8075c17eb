// Package mysql provides the MySQL-backed session KV and approval ledger.
// Schema changes ship as embedded SQL migrations tracked in schema_migrations;
// columns added after the first release are applied with ALTER TABLE and a
// duplicate-column error is treated as already migrated.
package mysql
