package metadata

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bruteguard/pkg/requestcontext"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		trusted    string
		expected   string
	}{
		{
			name:       "untrusted peer ignores X-Forwarded-For",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1"},
			remoteAddr: "192.168.1.1:12345",
			expected:   "192.168.1.1",
		},
		{
			name:       "trusted peer uses first X-Forwarded-For entry",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.2"},
			remoteAddr: "10.0.0.1:12345",
			trusted:    "10.0.0.0/8",
			expected:   "203.0.113.1",
		},
		{
			name:       "trusted peer falls back to X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			remoteAddr: "10.0.0.1:12345",
			trusted:    "10.0.0.1",
			expected:   "198.51.100.7",
		},
		{
			name:       "garbage X-Forwarded-For falls back to peer",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip"},
			remoteAddr: "10.0.0.1:12345",
			trusted:    "10.0.0.0/8",
			expected:   "10.0.0.1",
		},
		{
			name:       "oversized X-Forwarded-For falls back to peer",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1," + strings.Repeat("1", MaxForwardedHeaderLength)},
			remoteAddr: "10.0.0.1:12345",
			trusted:    "10.0.0.0/8",
			expected:   "10.0.0.1",
		},
		{
			name:       "ipv6 peer with brackets",
			remoteAddr: "[2001:db8::1]:443",
			expected:   "2001:db8::1",
		},
		{
			name:       "peer without port",
			remoteAddr: "192.0.2.4",
			expected:   "192.0.2.4",
		},
		{
			name:       "unparseable peer yields empty",
			remoteAddr: "pipe",
			expected:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefixes, err := ParseTrustedProxies(tt.trusted)
			require.NoError(t, err)
			m := NewMiddleware(&Config{TrustedProxies: prefixes})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, m.ClientIP(req))
		})
	}
}

func TestHandlerStoresMetadata(t *testing.T) {
	var gotIP, gotUA string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = requestcontext.ClientIP(r.Context())
		gotUA = requestcontext.UserAgent(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("User-Agent", "curl/8.5.0")
	NewMiddleware(nil).Handler(next).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "192.0.2.10", gotIP)
	assert.Equal(t, "curl/8.5.0", gotUA)
}

func TestParseTrustedProxies(t *testing.T) {
	t.Run("mixed list", func(t *testing.T) {
		prefixes, err := ParseTrustedProxies(" 10.0.0.0/8, 192.0.2.1 ,,2001:db8::/32")
		require.NoError(t, err)
		assert.Equal(t, []netip.Prefix{
			netip.MustParsePrefix("10.0.0.0/8"),
			netip.MustParsePrefix("192.0.2.1/32"),
			netip.MustParsePrefix("2001:db8::/32"),
		}, prefixes)
	})

	t.Run("empty is nil", func(t *testing.T) {
		prefixes, err := ParseTrustedProxies("")
		require.NoError(t, err)
		assert.Nil(t, prefixes)
	})

	t.Run("invalid entry", func(t *testing.T) {
		_, err := ParseTrustedProxies("10.0.0.0/33")
		assert.Error(t, err)
		_, err = ParseTrustedProxies("proxy.internal")
		assert.Error(t, err)
	})
}
