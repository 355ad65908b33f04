package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	old := Version
	Version = "1.2.3"
	defer func() { Version = old }()

	info := Info()
	assert.Equal(t, "1.2.3", info["version"])
	assert.Contains(t, info, "builtAt")
	assert.NotEmpty(t, info["goVersion"])
}
