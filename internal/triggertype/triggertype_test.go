package triggertype_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/target/chronos/internal/triggertype"
	"github.com/target/chronos/internal/triggertype/cron"
	"github.com/target/chronos/internal/triggertype/simple"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := triggertype.NewRegistry()
	r.Register(simple.Handle{})
	r.Register(cron.Handle{})

	h, ok := r.Lookup("simple")
	assert.True(t, ok)
	assert.Equal(t, "simple", h.Name())

	h, ok = r.Lookup("cron")
	assert.True(t, ok)
	assert.Equal(t, "cron", h.Name())

	_, ok = r.Lookup("unknown")
	assert.False(t, ok)
}
