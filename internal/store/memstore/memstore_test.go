package memstore_test

import (
	"testing"

	"github.com/target/chronos/internal/clock"
	"github.com/target/chronos/internal/store"
	"github.com/target/chronos/internal/store/memstore"
	"github.com/target/chronos/internal/store/storetest"
)

func TestMemstore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.JobStore {
		return memstore.New(clock.Real{})
	})
}
