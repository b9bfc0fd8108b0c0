package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPath(t *testing.T) {
	cfg := Defaults()
	cfg.API.Auth.APIKey = "s3cret"
	cfg.API.Auth.Tokens = []APIToken{{Token: "t0k", Scopes: []string{"loads:ro"}}}

	v, err := cfg.GetPath("loader.max_requests_per_host")
	require.NoError(t, err)
	assert.Equal(t, 6, v)

	v, err = cfg.GetPath("service.name")
	require.NoError(t, err)
	assert.Equal(t, "loadsched", v)

	v, err = cfg.GetPath("api.auth.api_key")
	require.NoError(t, err)
	assert.Equal(t, "<redacted>", v)

	v, err = cfg.GetPath("api.auth.tokens")
	require.NoError(t, err)
	tokens := v.([]any)
	assert.Equal(t, "<redacted>", tokens[0].(map[string]any)["token"])
	assert.Equal(t, "t0k", cfg.API.Auth.Tokens[0].Token, "redaction must not touch the config")

	_, err = cfg.GetPath("loader.nope")
	assert.Error(t, err)
	_, err = cfg.GetPath("service.name.deeper")
	assert.Error(t, err)
}
