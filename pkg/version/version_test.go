package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v1.2.3"
	s := String()
	assert.Contains(t, s, "typescope v1.2.3")
	assert.Contains(t, s, GoVersion)
}
