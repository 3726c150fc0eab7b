package main

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroykontrol/build-report/config"
	"github.com/stroykontrol/build-report/logger"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRun_RejectedBotToken_NeverServesHTTP(t *testing.T) {
	// GIVEN: A Bot API that rejects every token
	botAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer botAPI.Close()

	var cfg config.Config
	cfg.Storage.Driver = config.DriverMemory
	cfg.HTTP.Addr = freeAddr(t)
	cfg.Telegram.Token = "123:rejected"
	cfg.Telegram.APIEndpoint = botAPI.URL + "/bot%s/%s"

	// WHEN: Starting the server
	err := run(cfg, logger.Discard())

	// THEN: Startup fails on the bot
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")

	// AND: The HTTP address was never taken
	l, err := net.Listen("tcp", cfg.HTTP.Addr)
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestNewBot_NoToken_Disabled(t *testing.T) {
	var cfg config.Config

	b, err := newBot(cfg, logger.Discard(), nil, nil)

	require.NoError(t, err)
	assert.Nil(t, b)
}
