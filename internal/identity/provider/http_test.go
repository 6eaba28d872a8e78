package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sweetpy/intelXv2-sub001/internal/identity/domain"
)

type fakeIDP struct {
	password string
	profiles []profileRow
	updated  string
	status   int
}

func (f *fakeIDP) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("grant_type = %q", r.URL.Query().Get("grant_type"))
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("apikey header = %q", r.Header.Get("apikey"))
		}
		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != f.password {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(errorResponse{Error: "invalid_grant", ErrorDescription: "Invalid login credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "idp-token"})
	})
	mux.HandleFunc("GET /rest/v1/profiles", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer idp-token" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		var out []profileRow
		for _, p := range f.profiles {
			if "eq."+p.Email == r.URL.Query().Get("email") {
				out = append(out, p)
			}
		}
		if out == nil {
			out = []profileRow{}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("PUT /auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.updated = body["password"]
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "u-1"})
	})
	return mux
}

func TestHTTPProvider_SignIn(t *testing.T) {
	idp := &fakeIDP{
		password: "Correct-Horse-1",
		profiles: []profileRow{{ID: "u-1", Email: "ops@intellx.co.tz", Name: "Ops", Role: "analyst", Permissions: []string{"read", "write"}, MFAEnabled: true, TOTPSecret: "JBSWY3DPEHPK3PXP"}},
	}
	srv := httptest.NewServer(idp.handler(t))
	defer srv.Close()
	p := NewHTTPProvider(srv.URL+"/", "anon-key", nil)

	u, err := p.SignIn(context.Background(), "Ops@Intellx.co.tz", "Correct-Horse-1")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if u.ID != "u-1" || u.Role != "analyst" || !u.MFAEnabled || u.TOTPSecret == "" {
		t.Errorf("user = %+v", u)
	}
	if !u.HasPermission("write") {
		t.Error("profile permissions not mapped")
	}
}

func TestHTTPProvider_SignInErrors(t *testing.T) {
	idp := &fakeIDP{password: "Correct-Horse-1"}
	srv := httptest.NewServer(idp.handler(t))
	defer srv.Close()
	p := NewHTTPProvider(srv.URL, "anon-key", nil)
	ctx := context.Background()

	_, err := p.SignIn(ctx, "ops@intellx.co.tz", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}
	if err != nil && err.Error() != "Invalid login credentials" {
		t.Errorf("message = %q, want provider message", err.Error())
	}

	_, err = p.SignIn(ctx, "ops@intellx.co.tz", "Correct-Horse-1")
	if !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("missing profile: err = %v, want ErrProfileNotFound", err)
	}

	idp.status = http.StatusInternalServerError
	_, err = p.SignIn(ctx, "ops@intellx.co.tz", "Correct-Horse-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("server error: err = %v, want ErrUnavailable", err)
	}
}

func TestHTTPProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewHTTPProvider(url, "", nil)
	if _, err := p.SignIn(context.Background(), "a@b.co", "longenough"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestHTTPProvider_UpdatePassword(t *testing.T) {
	idp := &fakeIDP{password: "Correct-Horse-1"}
	srv := httptest.NewServer(idp.handler(t))
	defer srv.Close()
	p := NewHTTPProvider(srv.URL, "anon-key", nil)
	ctx := context.Background()
	user := &domain.User{ID: "u-1", Email: "ops@intellx.co.tz"}

	if err := p.UpdatePassword(ctx, user, "wrong", "N3w-Password!!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong current: err = %v, want ErrInvalidCredentials", err)
	}
	if idp.updated != "" {
		t.Error("password must not change when the current password is wrong")
	}
	if err := p.UpdatePassword(ctx, user, "Correct-Horse-1", "N3w-Password!!"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if idp.updated != "N3w-Password!!" {
		t.Errorf("updated = %q", idp.updated)
	}
}
