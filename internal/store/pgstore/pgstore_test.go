package pgstore_test

import (
	"testing"

	"github.com/target/chronos/internal/clock"
	"github.com/target/chronos/internal/store"
	"github.com/target/chronos/internal/store/pgstore"
	"github.com/target/chronos/internal/store/pgstore/pgstoretest"
	"github.com/target/chronos/internal/store/storetest"
)

// TestPgstore_Conformance runs the shared JobStore conformance suite against
// a real Postgres database, skipped unless one is reachable (see
// pgstoretest.SkipIfUnavailable).
func TestPgstore_Conformance(t *testing.T) {
	db := pgstoretest.Setup(t) // owned by the top-level test; subtests only truncate
	storetest.Run(t, func(t *testing.T) store.JobStore {
		pgstoretest.Cleanup(t, db)
		return pgstore.New(db, clock.Real{})
	})
}
