package result

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultKinds(t *testing.T) {
	ok := Success([]string{"a"}, SourceOpenAI)
	assert.True(t, ok.OK())
	assert.Equal(t, "success", ok.Kind.String())
	assert.Empty(t, ok.Reason)

	degraded := Degraded([]string{"b"}, SourceFree, "upstream timeout")
	assert.True(t, degraded.OK())
	assert.Equal(t, "degraded", degraded.Kind.String())
	assert.Equal(t, SourceFree, degraded.Source)
	assert.Equal(t, "upstream timeout", degraded.Reason)

	failed := Failure[[]string]("quota exhausted")
	assert.False(t, failed.OK())
	assert.Equal(t, "failure", failed.Kind.String())
	assert.Nil(t, failed.Value)
	assert.Empty(t, failed.Source)
}
