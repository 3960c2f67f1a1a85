// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: embedded SQL migrations, a partial unique index that admits one
// SUCCESS or PROCESSING execution per contract and period, compare-and-set
// status transitions, NUMERIC money columns and an upsert-based lease.
package postgres
