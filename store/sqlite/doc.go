// Package sqlite implements store.Store and lease.Store on SQLite through
// the pure-Go modernc.org/sqlite driver. Suitable for single-node
// deployments, CLI tools and tests.
//
// The caller may either let the Store open the database or pass an
// existing *sql.DB, in which case the caller owns its lifecycle:
//
//	import "github.com/xraph/paysched/store/sqlite"
//
//	st, _ := sqlite.Open("file:paysched.db")
//	defer st.Close()
//	st.Migrate(ctx)
//
// Timestamps are stored as UTC unix nanoseconds and money as decimal text.
package sqlite
