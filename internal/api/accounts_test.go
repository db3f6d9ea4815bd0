package api

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/Dijker/com.netatmo/internal/auth"
	"github.com/Dijker/com.netatmo/internal/capability"
	"github.com/Dijker/com.netatmo/internal/netatmo"
	cloudsync "github.com/Dijker/com.netatmo/internal/sync"
)

func TestAuthorizeAndCallback(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/accounts/authorize", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("authorize status = %d", w.Code)
	}
	resp := decode(t, w)
	state, _ := resp["state"].(string)
	consent, err := url.Parse(resp["url"].(string))
	if err != nil {
		t.Fatalf("consent url: %v", err)
	}
	if state == "" || consent.Query().Get("state") != state {
		t.Fatalf("consent url %s does not carry state %q", consent, state)
	}

	callback := "/api/v1/oauth/callback?state=" + url.QueryEscape(state) + "&code=" + goodCode
	w = f.do(t, http.MethodGet, callback, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("callback status = %d, body %s", w.Code, w.Body)
	}
	if got := decode(t, w)["account_id"]; got != testAccount {
		t.Errorf("account_id = %v", got)
	}

	w = f.do(t, http.MethodGet, callback, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("reused state status = %d, want 400", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/v1/accounts", nil)
	if got := decode(t, w)["count"]; got != float64(1) {
		t.Errorf("account count = %v, want 1", got)
	}
}

func TestOAuthCallback_Rejects(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"denied", "?error=access_denied", http.StatusBadRequest},
		{"missing state", "?code=" + goodCode, http.StatusBadRequest},
		{"unknown state", "?state=forged&code=" + goodCode, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/oauth/callback"+tt.query, nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body)
			}
		})
	}

	// A bad code spends the state and fails authentication.
	_, state := f.srv.authorizer.Begin()
	w := f.do(t, http.MethodGet, "/api/v1/oauth/callback?state="+url.QueryEscape(state)+"&code=bad", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad code status = %d, want 401", w.Code)
	}
}

func TestResumeAccount(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/accounts", map[string]string{"access_token": "a"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing refresh token status = %d", w.Code)
	}

	f.link(t)
	list := f.accounts.List()
	if len(list) != 1 || list[0].ID != testAccount {
		t.Errorf("List() = %+v", list)
	}
}

func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	f.link(t)
	f.cloud.records = []netatmo.Record{{StationID: "station", Type: capability.TypeStation, Name: "Home"}}

	w := f.do(t, http.MethodPost, "/api/v1/drivers/weatherstation/devices", map[string]any{
		"account_id": testAccount, "station_id": "station", "type": capability.TypeStation,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add device status = %d, body %s", w.Code, w.Body)
	}

	w = f.do(t, http.MethodDelete, "/api/v1/accounts/"+testAccount, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("delete in-use account status = %d, want 409", w.Code)
	}
	if len(f.removed) != 0 {
		t.Errorf("OnAccountRemoved fired for a refused removal")
	}

	if w := f.do(t, http.MethodDelete, "/api/v1/devices/station", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete device status = %d", w.Code)
	}
	w = f.do(t, http.MethodDelete, "/api/v1/accounts/"+testAccount, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete account status = %d, body %s", w.Code, w.Body)
	}
	if len(f.removed) != 1 || f.removed[0] != testAccount {
		t.Errorf("removed = %v", f.removed)
	}

	w = f.do(t, http.MethodDelete, "/api/v1/accounts/"+testAccount, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("delete unknown account status = %d, want 404", w.Code)
	}
}

func TestRefreshAccount(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"unknown", auth.ErrUnknownAccount, http.StatusNotFound},
		{"exhausted", cloudsync.ErrRetriesExhausted, http.StatusBadGateway},
		{"unauthenticated", cloudsync.ErrNotAuthenticated, http.StatusServiceUnavailable},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.refresher.refreshErr = tt.err

			w := f.do(t, http.MethodPost, "/api/v1/accounts/"+testAccount+"/refresh", nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusInternalServerError && decode(t, w)["message"] != "internal server error" {
				t.Errorf("internal error leaked: %s", w.Body)
			}
			if len(f.refresher.refreshed) != 1 || f.refresher.refreshed[0] != testAccount {
				t.Errorf("refreshed = %v", f.refresher.refreshed)
			}
		})
	}
}
