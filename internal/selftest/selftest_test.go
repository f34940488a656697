package selftest

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/clash/internal/config"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Browser.Bin = ""
	cfg.Browser.ControlURL = ""
	cfg.Browser.UserDataDir = filepath.Join(dir, "profile")
	cfg.Storage.Path = filepath.Join(dir, "clash.db")
	return Options{
		Config:   cfg,
		LookPath: func() (string, bool) { return "/usr/bin/chromium", true },
	}
}

func healthy(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.Write([]byte("ok"))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckHealthy(t *testing.T) {
	opts := testOptions(t)
	opts.ServerURL = healthy(t).URL

	r := Check(context.Background(), opts)
	assert.Equal(t, "healthy", r.Status, r.Summary())
	assert.True(t, r.IsHealthy())
	for _, name := range []string{"browser", "profile", "store", "server"} {
		require.Contains(t, r.Components, name)
		assert.Equal(t, StatusOK, r.Components[name].Status, name)
	}
	assert.Equal(t, "/usr/bin/chromium", r.Components["browser"].Detail)
	assert.DirExists(t, opts.Config.Browser.UserDataDir)
	assert.FileExists(t, opts.Config.Storage.Path)
}

func TestCheckServerDown(t *testing.T) {
	opts := testOptions(t)
	opts.ServerURL = "http://127.0.0.1:1"

	r := Check(context.Background(), opts)
	assert.Equal(t, "degraded", r.Status)
	assert.True(t, r.IsHealthy())
	assert.Equal(t, StatusDegraded, r.Components["server"].Status)
}

func TestCheckNoBrowser(t *testing.T) {
	opts := testOptions(t)
	opts.LookPath = func() (string, bool) { return "", false }

	r := Check(context.Background(), opts)
	assert.Equal(t, "unhealthy", r.Status)
	assert.False(t, r.IsHealthy())
	assert.Contains(t, r.Components["browser"].Error, "browser.bin")
}

func TestCheckBrowserBin(t *testing.T) {
	opts := testOptions(t)

	bin := filepath.Join(t.TempDir(), "chrome")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755))
	opts.Config.Browser.Bin = bin
	assert.Equal(t, StatusOK, checkBrowser(context.Background(), opts).Status)

	opts.Config.Browser.Bin = filepath.Join(t.TempDir(), "missing")
	assert.Equal(t, StatusError, checkBrowser(context.Background(), opts).Status)
}

func TestCheckControlURL(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	opts := testOptions(t)
	opts.Config.Browser.ControlURL = "ws://" + ln.Addr().String() + "/devtools/browser/abc"
	assert.Equal(t, StatusOK, checkBrowser(context.Background(), opts).Status)
	assert.Contains(t, checkProfile(context.Background(), opts).Detail, "attached")

	opts.Config.Browser.ControlURL = "not a url"
	assert.Equal(t, StatusError, checkBrowser(context.Background(), opts).Status)
}

func TestCheckProfileUnset(t *testing.T) {
	opts := testOptions(t)
	opts.Config.Browser.UserDataDir = ""
	assert.Equal(t, StatusDegraded, checkProfile(context.Background(), opts).Status)
}

func TestHeadlessWarning(t *testing.T) {
	opts := testOptions(t)
	opts.Config.Browser.Headless = true
	opts.ServerURL = healthy(t).URL

	r := Check(context.Background(), opts)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Summary(), "headless")
}

func TestSummaryAndQuickCheck(t *testing.T) {
	r := &Report{
		Status: "unhealthy",
		HasTTY: false,
		Components: map[string]ComponentStatus{
			"store":   {Status: StatusOK, Detail: "/tmp/clash.db"},
			"browser": {Status: StatusError, Error: "no chromium binary found; set browser.bin"},
		},
	}

	summary := r.Summary()
	assert.Contains(t, summary, "CLASH ENVIRONMENT CHECK")
	assert.Contains(t, summary, "/tmp/clash.db")
	assert.Contains(t, summary, "UNHEALTHY")
	assert.Less(t, strings.Index(summary, "browser:"), strings.Index(summary, "store:"))

	assert.Equal(t, "browser:error store:ok status:unhealthy", r.QuickCheck())
}
