package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPGTest_SkipsWithoutDocker(t *testing.T) {
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("DOCKER_HOST", "unix:///nonexistent/docker.sock")

	var skipped bool
	t.Run("unreachable daemon", func(t *testing.T) {
		defer func() { skipped = t.Skipped() }()
		_, cleanup := PGTest(t)
		cleanup()
	})
	assert.True(t, skipped, "PGTest must skip, not panic or fail, when Docker is unreachable")
}
