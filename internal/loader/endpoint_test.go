package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		locator string
		want    EndpointKey
		ok      bool
	}{
		{"https default port", "https://example.com/a.css", "https://example.com:443", true},
		{"http default port", "http://example.com/", "http://example.com:80", true},
		{"explicit port", "http://example.com:8080/x", "http://example.com:8080", true},
		{"case folded", "HTTPS://Example.COM/Path", "https://example.com:443", true},
		{"userinfo ignored", "https://user:pw@example.com/", "https://example.com:443", true},
		{"ipv6", "http://[::1]:9000/", "http://[::1]:9000", true},
		{"data", "data:text/css,body{}", "", false},
		{"file", "file:///etc/hosts", "", false},
		{"about", "about:blank", "", false},
		{"relative", "/img/a.png", "", false},
		{"no host", "https:///a.css", "", false},
		{"garbage", "http://%zz", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveEndpoint(tt.locator)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveEndpointSharesKeyAcrossPaths(t *testing.T) {
	a, _ := ResolveEndpoint("https://cdn.test/a.js")
	b, _ := ResolveEndpoint("https://cdn.test:443/b/c.css?x=1")
	assert.Equal(t, a, b)

	c, _ := ResolveEndpoint("http://cdn.test/a.js")
	assert.NotEqual(t, a, c, "scheme is part of the key")
}
