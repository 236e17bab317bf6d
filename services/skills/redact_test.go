package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildPath(t *testing.T) {
	assert.Equal(t, "/contact.phone", childPath("", "contact.phone"))
	assert.Equal(t, "/contact/phone", childPath(childPath("", "contact"), "phone"))
	assert.Equal(t, "/a~1b/c~0d", childPath(childPath("", "a/b"), "c~d"))
	assert.Equal(t, "/notes/0", childPath(childPath("", "notes"), "0"))
	assert.NotEqual(t, childPath("", "a/b"), childPath(childPath("", "a"), "b"))
}

func TestScrubArgs_DottedAndNestedKeysStayApart(t *testing.T) {
	args := map[string]interface{}{
		"contact.phone": "call 0412 111 111",
		"contact": map[string]interface{}{
			"phone": "call 0498 222 222",
		},
		"a/b": "mail x@example.com",
		"a":   map[string]interface{}{"b": "mail y@example.com"},
	}

	scrubbed, red := scrubArgs(args)
	require.Len(t, red.maps, 4)
	assert.Equal(t, "call [PHONE]", scrubbed["contact.phone"])

	restored, n := resolveArgs(scrubbed, red.maps)
	assert.Equal(t, 4, n)
	assert.Equal(t, args, restored)
}
