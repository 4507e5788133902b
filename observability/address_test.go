package observability

import (
	"github.com/stretchr/testify/assert"
	"strings"
	"testing"
)

func TestAddress(t *testing.T) {
	assert.Equal(t, GetOutboundIP(), Address(""))
	assert.True(t, strings.HasSuffix(Address("8080"), ":8080"))
}
