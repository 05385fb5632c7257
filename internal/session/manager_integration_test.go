//go:build integration

package session_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"courtnotify/internal/config"
	"courtnotify/internal/dispatch"
	"courtnotify/internal/session"
)

// fakeWeb serves pages carrying the same DOM markers the real messaging
// UI exposes, so the full launch/login/send path runs against a local
// server with a real headless browser.
func fakeWeb(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintln(w, `<html><body><div id="pane-side">chats</div></body></html>`)
	})
	mux.HandleFunc("/send", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Query().Get("phone") == "910000000000" {
			fmt.Fprintln(w, `<html><body>
				<div id="pane-side"></div>
				<div>Phone number shared via url is invalid.</div>
			</body></html>`)
			return
		}
		fmt.Fprintln(w, `<html><body>
			<div id="pane-side"></div>
			<div contenteditable="true" data-tab="10">`+r.URL.Query().Get("text")+`</div>
			<button aria-label="Send" onclick="this.dataset.clicked='1'">send</button>
		</body></html>`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func integrationConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	return &config.Config{
		BaseDir:                 base,
		Profiles:                map[string]string{"shs": filepath.Join(base, "profile_shs")},
		LoginTimeoutSeconds:     30,
		WebDriverTimeoutSeconds: 15,
		MaxSessionRetries:       1,
		Headless:                true,
		SendButtonSelectors:     []string{`//button[@aria-label='Send']`},
		ChatLoadedSelectors:     []string{`//div[@contenteditable='true'][@data-tab='10']`},
		SessionSelectors:        []string{`#pane-side`},
		QRCodeSelectors:         []string{`//canvas[@aria-label='Scan me!']`},
		InvalidContactSelectors: []string{`//div[contains(text(), 'Phone number shared via url is invalid')]`},
	}
}

func TestManager_SendPath_Integration(t *testing.T) {
	ts := fakeWeb(t)
	cfg := integrationConfig(t)

	mgr, err := session.NewManager(cfg, "shs", nil)
	require.NoError(t, err)
	mgr.SetBaseURL(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	defer func() {
		if err := mgr.Close(); err != nil {
			t.Logf("close error: %v", err)
		}
	}()

	require.NoError(t, mgr.Start(ctx), "failed to start browser session")
	require.Equal(t, session.StateAuthenticated, mgr.State())
	require.Equal(t, session.StateAuthenticated, mgr.CheckHealth(ctx))

	require.NoError(t, mgr.OpenConversation(ctx, "919876543210", "hello there"))
	require.NoError(t, mgr.Submit(ctx))
}

func TestManager_InvalidContact_Integration(t *testing.T) {
	ts := fakeWeb(t)
	cfg := integrationConfig(t)

	mgr, err := session.NewManager(cfg, "shs", nil)
	require.NoError(t, err)
	mgr.SetBaseURL(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	defer mgr.Close()

	require.NoError(t, mgr.Start(ctx))

	err = mgr.OpenConversation(ctx, "910000000000", "hello")
	require.ErrorIs(t, err, dispatch.ErrContactNotFound)
}
