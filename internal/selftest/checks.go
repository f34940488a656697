package selftest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/go-rod/rod/lib/launcher"

	"github.com/joss/clash/internal/config"
	"github.com/joss/clash/internal/store"
)

func checkBrowser(ctx context.Context, opts Options) ComponentStatus {
	cfg := opts.Config.Browser

	if cfg.ControlURL != "" {
		u, err := url.Parse(cfg.ControlURL)
		if err != nil || u.Host == "" {
			return ComponentStatus{Status: StatusError, Error: "browser.control_url is not a URL"}
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return ComponentStatus{Status: StatusError, Detail: cfg.ControlURL, Error: err.Error()}
		}
		conn.Close()
		return ComponentStatus{Status: StatusOK, Detail: "attach " + cfg.ControlURL}
	}

	if cfg.Bin != "" {
		info, err := os.Stat(cfg.Bin)
		if err != nil {
			return ComponentStatus{Status: StatusError, Detail: cfg.Bin, Error: err.Error()}
		}
		if info.IsDir() {
			return ComponentStatus{Status: StatusError, Detail: cfg.Bin, Error: "is a directory"}
		}
		return ComponentStatus{Status: StatusOK, Detail: cfg.Bin}
	}

	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = launcher.LookPath
	}
	path, ok := lookPath()
	if !ok {
		return ComponentStatus{Status: StatusError, Error: "no chromium binary found; set browser.bin"}
	}
	return ComponentStatus{Status: StatusOK, Detail: path}
}

func checkProfile(ctx context.Context, opts Options) ComponentStatus {
	dir := opts.Config.Browser.UserDataDir
	if opts.Config.Browser.ControlURL != "" {
		return ComponentStatus{Status: StatusOK, Detail: "owned by the attached browser"}
	}
	if dir == "" {
		return ComponentStatus{Status: StatusDegraded, Detail: "none; agent logins are not kept"}
	}
	if err := config.EnsureDir(dir); err != nil {
		return ComponentStatus{Status: StatusError, Detail: dir, Error: err.Error()}
	}
	probe, err := os.CreateTemp(dir, ".clash-doctor-*")
	if err != nil {
		return ComponentStatus{Status: StatusError, Detail: dir, Error: "not writable"}
	}
	probe.Close()
	os.Remove(probe.Name())
	return ComponentStatus{Status: StatusOK, Detail: dir}
}

func checkStore(ctx context.Context, opts Options) ComponentStatus {
	path := opts.Config.Storage.Path
	st, err := store.Open(path)
	if err != nil {
		return ComponentStatus{Status: StatusError, Detail: path, Error: err.Error()}
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		return ComponentStatus{Status: StatusError, Detail: path, Error: err.Error()}
	}
	if _, err := st.LoadState(ctx); err != nil && store.IsCorrupt(err) {
		return ComponentStatus{Status: StatusDegraded, Detail: path, Error: "saved session is unreadable and will be discarded"}
	}
	return ComponentStatus{Status: StatusOK, Detail: filepath.Clean(path)}
}

// checkServer is degraded, not failed, when nothing listens: 'clash run'
// works without a separate server.
func checkServer(ctx context.Context, opts Options) ComponentStatus {
	if opts.ServerURL == "" {
		return ComponentStatus{Status: StatusDegraded, Detail: "no address"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.ServerURL+"/healthz", nil)
	if err != nil {
		return ComponentStatus{Status: StatusError, Error: err.Error()}
	}
	resp, err := opts.HTTP.Do(req)
	if err != nil {
		return ComponentStatus{Status: StatusDegraded, Detail: "not running at " + opts.ServerURL}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ComponentStatus{Status: StatusDegraded, Detail: opts.ServerURL, Error: fmt.Sprintf("healthz: %s", resp.Status)}
	}
	return ComponentStatus{Status: StatusOK, Detail: "running at " + opts.ServerURL}
}
