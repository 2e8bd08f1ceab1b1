package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reqFrom(remote, xff string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = remote
	if xff != "" {
		r.Header.Set("X-Forwarded-For", xff)
	}
	return r
}

func TestClientIP_IgnoresForwardedWithoutTrust(t *testing.T) {
	var none *ProxyTrust
	assert.Equal(t, "203.0.113.9", none.ClientIP(reqFrom("203.0.113.9:5555", "1.2.3.4")))

	pt, err := ParseTrustedProxies(nil)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", pt.ClientIP(reqFrom("203.0.113.9:5555", "1.2.3.4")))
}

func TestClientIP_TrustedProxyChain(t *testing.T) {
	pt, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10"})
	require.NoError(t, err)

	// El cliente no puede colar una IP a la izquierda: gana el último hop no confiable.
	assert.Equal(t, "198.51.100.7", pt.ClientIP(reqFrom("10.0.0.2:443", "1.2.3.4, 198.51.100.7, 192.168.1.10")))
	// Peer no confiable: el header no cuenta.
	assert.Equal(t, "198.51.100.50", pt.ClientIP(reqFrom("198.51.100.50:443", "1.2.3.4")))
	// Todo el camino es proxy: queda el peer.
	assert.Equal(t, "10.0.0.2", pt.ClientIP(reqFrom("10.0.0.2:443", "10.1.1.1")))
	// Basura en el header: se corta y queda el peer.
	assert.Equal(t, "10.0.0.2", pt.ClientIP(reqFrom("10.0.0.2:443", "garbage")))
}

func TestParseTrustedProxies_Invalid(t *testing.T) {
	_, err := ParseTrustedProxies([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"nope"})
	assert.Error(t, err)
}

func TestWithClientIP_SetsContext(t *testing.T) {
	pt, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	var got string
	h := WithClientIP(pt)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = clientIP(r)
	}))
	h.ServeHTTP(httptest.NewRecorder(), reqFrom("10.0.0.2:443", "198.51.100.7"))
	assert.Equal(t, "198.51.100.7", got)
}
