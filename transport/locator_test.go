package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocatorValid(t *testing.T) {
	loc, err := ParseLocator("tcp:host=127.0.0.1,port=11111")
	require.NoError(t, err)
	assert.Equal(t, "tcp", loc.Protocol)
	assert.Equal(t, "127.0.0.1", loc.Host)
	assert.Equal(t, uint16(11111), loc.Port)
	assert.Equal(t, "127.0.0.1:11111", loc.Address())
}

func TestParseLocatorKernelTcp(t *testing.T) {
	_, err := ParseLocator("kernelTcp:host=localhost,port=80")
	require.NoError(t, err)
}

func TestParseLocatorRejectsUnknownProtocol(t *testing.T) {
	_, err := ParseLocator("rdma:host=x,port=1")
	assert.Error(t, err)
}

func TestParseLocatorRequiresHostAndPort(t *testing.T) {
	_, err := ParseLocator("tcp:host=127.0.0.1")
	assert.Error(t, err)

	_, err = ParseLocator("tcp:port=1")
	assert.Error(t, err)
}

func TestParseLocatorMalformedOption(t *testing.T) {
	_, err := ParseLocator("tcp:hostonly")
	assert.Error(t, err)
}
