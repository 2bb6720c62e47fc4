package redisstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// key() is the only piece of this package that doesn't require a live
// broker; everything else (Lookup/IncrementLimit/AdvanceFlow) needs a real
// Redis connection and is not tested in this module's test suite.
func TestKeyPrefixing(t *testing.T) {
	s := &Store{prefix: ""}
	assert.Equal(t, "limit:gf1:1.2.3.4", s.key("limit", "gf1", "1.2.3.4"))

	s.prefix = "cf_"
	assert.Equal(t, "cf_limit:gf1:1.2.3.4", s.key("limit", "gf1", "1.2.3.4"))
}
