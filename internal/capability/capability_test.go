package capability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryehost/rye/internal/capability"
)

func TestRequired(t *testing.T) {
	require.Equal(t, "execute.tool.files.read", capability.Required("execute", "tool", "files/read"))
	require.Equal(t, "search.workflow", capability.Required("search", "workflow", ""))
}

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern capability.Pattern
		token   string
		want    bool
	}{
		{"execute.tool.files.*", "execute.tool.files.read", true},
		{"execute.tool.files.*", "execute.tool.net.http", false},
		{"execute.tool.*", "execute.tool.files.read", true},
		{"execute.tool.files.?ead", "execute.tool.files.read", true},
		{"execute.tool.files.read", "execute.tool.files.write", false},
		{"execute.*.files.read", "execute.tool.files.read", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, capability.Matches(c.pattern, c.token), "pattern=%s token=%s", c.pattern, c.token)
	}
}

func TestSetAllows(t *testing.T) {
	set := capability.Set{"execute.tool.files.*", "search.workflow.*"}
	assert.True(t, set.Allows("execute.tool.files.read"))
	assert.False(t, set.Allows("execute.tool.net.http"))
}

func TestAttenuates(t *testing.T) {
	parent := capability.Set{"execute.tool.files.*"}
	okChild := capability.Set{"execute.tool.files.read"}
	badChild := capability.Set{"execute.tool.net.http"}

	assert.True(t, capability.Attenuates(parent, okChild))
	assert.False(t, capability.Attenuates(parent, badChild))

	// Empty child is always attenuated (fail-closed default).
	assert.True(t, capability.Attenuates(parent, nil))

	// A wildcard child is never implied by a narrower parent.
	widerChild := capability.Set{"execute.tool.*"}
	assert.False(t, capability.Attenuates(parent, widerChild))
}
