package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenFromHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bearer", in: "Bearer abc123", want: "abc123"},
		{name: "lowercase_scheme", in: "bearer abc123", want: "abc123"},
		{name: "trailing_space_trimmed", in: "Bearer abc123  ", want: "abc123"},
		{name: "empty", in: "", want: ""},
		{name: "no_scheme", in: "abc123", want: ""},
		{name: "wrong_scheme", in: "Basic dXNlcjpwYXNz", want: ""},
		{name: "bearer_only", in: "Bearer ", want: ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := TokenFromHeader(tc.in); got != tc.want {
				t.Fatalf("TokenFromHeader(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestHTTPProvider_Authenticate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("apikey") != "svc-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good-token":
			_ = json.NewEncoder(w).Encode(User{ID: "user-1", Email: "ada@example.com"})
		case "Bearer empty-user":
			_ = json.NewEncoder(w).Encode(User{})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	t.Cleanup(srv.Close)

	p := NewHTTPProvider(srv.URL+"/", "svc-key")

	t.Run("valid_token", func(t *testing.T) {
		u, err := p.Authenticate(context.Background(), "good-token")
		if err != nil {
			t.Fatalf("Authenticate() err=%v, want nil", err)
		}
		if u.ID != "user-1" || u.Email != "ada@example.com" {
			t.Fatalf("user=%+v, want user-1/ada@example.com", u)
		}
	})

	t.Run("rejected_token", func(t *testing.T) {
		_, err := p.Authenticate(context.Background(), "bad-token")
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("Authenticate() err=%v, want ErrUnauthenticated", err)
		}
	})

	t.Run("empty_token", func(t *testing.T) {
		_, err := p.Authenticate(context.Background(), "")
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("Authenticate() err=%v, want ErrUnauthenticated", err)
		}
	})

	t.Run("missing_user_id_rejected", func(t *testing.T) {
		_, err := p.Authenticate(context.Background(), "empty-user")
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("Authenticate() err=%v, want ErrUnauthenticated", err)
		}
	})

	t.Run("context_cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := p.Authenticate(ctx, "good-token"); err == nil {
			t.Fatalf("Authenticate(cancelled ctx) err=nil, want error")
		}
	})
}

func TestStatic(t *testing.T) {
	t.Parallel()

	s := Static{"tok": {ID: "u1", Email: "u1@example.com"}}

	u, err := s.Authenticate(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	if u.ID != "u1" {
		t.Fatalf("ID=%q, want u1", u.ID)
	}

	if _, err := s.Authenticate(context.Background(), "other"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Authenticate(unknown) err=%v, want ErrUnauthenticated", err)
	}
}
