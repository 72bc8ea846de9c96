package strava

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	shared "github.com/trailblazerplus/server/pkg"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		ClientID:       "client-123",
		ClientSecret:   "secret-456",
		AuthURL:        srv.URL + "/oauth/authorize",
		TokenURL:       srv.URL + "/oauth/token",
		DeauthorizeURL: srv.URL + "/oauth/deauthorize",
		APIBaseURL:     srv.URL + "/api/v3",
		Timeout:        2 * time.Second,
	})
}

func TestExchangeCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("Expected authorization_code grant, got %s", got)
		}
		if r.PostForm.Get("client_id") != "client-123" || r.PostForm.Get("client_secret") != "secret-456" {
			t.Errorf("Expected client credentials in body, got %v", r.PostForm)
		}
		if r.PostForm.Get("code") != "abc" {
			t.Errorf("Expected code abc, got %s", r.PostForm.Get("code"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"at-1","refresh_token":"rt-1","expires_at":1700000000,"expires_in":21600,
			"athlete":{"id":12345678,"username":"jdoe","firstname":"Jane","lastname":"Doe"}}`)
	})
	c := newTestClient(t, mux)

	bundle, err := c.ExchangeCode(context.Background(), "abc")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if bundle.AccessToken != "at-1" || bundle.RefreshToken != "rt-1" {
		t.Errorf("Unexpected tokens: %+v", bundle)
	}
	if bundle.ExpiresAt != 1700000000 {
		t.Errorf("Expected expires_at 1700000000, got %d", bundle.ExpiresAt)
	}
	if bundle.Athlete == nil {
		t.Fatal("Expected athlete")
	}
	if bundle.Athlete.ID != 12345678 {
		t.Errorf("Expected athlete id 12345678, got %d", bundle.Athlete.ID)
	}
	if bundle.Athlete.Username == nil || *bundle.Athlete.Username != "jdoe" {
		t.Errorf("Expected username jdoe, got %v", bundle.Athlete.Username)
	}
	if bundle.Athlete.Name() != "Jane Doe" {
		t.Errorf("Expected name 'Jane Doe', got %q", bundle.Athlete.Name())
	}
}

func TestExchangeCode_AuthError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"Bad Request","errors":[{"resource":"AuthorizationCode","field":"code","code":"invalid"}]}`)
	})
	c := newTestClient(t, mux)

	_, err := c.ExchangeCode(context.Background(), "bad")
	var authErr *shared.ProviderAuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected *ProviderAuthError, got %T: %v", err, err)
	}
	if authErr.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", authErr.StatusCode)
	}
	if !strings.Contains(authErr.Body, "AuthorizationCode") {
		t.Errorf("Expected body to be carried, got %s", authErr.Body)
	}
}

func TestRefreshToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("Expected refresh_token grant, got %s", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "rt-old" {
			t.Errorf("Expected rt-old, got %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"at-new","refresh_token":"rt-new","expires_at":1800000000,"expires_in":21600}`)
	})
	c := newTestClient(t, mux)

	bundle, err := c.RefreshToken(context.Background(), "rt-old")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if bundle.AccessToken != "at-new" || bundle.RefreshToken != "rt-new" || bundle.ExpiresAt != 1800000000 {
		t.Errorf("Unexpected bundle: %+v", bundle)
	}
	if bundle.Athlete != nil {
		t.Errorf("Expected no athlete on refresh, got %+v", bundle.Athlete)
	}
}

func TestRefreshToken_Unauthorized(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Authorization Error"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.RefreshToken(context.Background(), "revoked")
	var authErr *shared.ProviderAuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected *ProviderAuthError, got %T: %v", err, err)
	}
	if authErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", authErr.StatusCode)
	}
}

func TestRevokeToken(t *testing.T) {
	var gotToken string
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/deauthorize", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		_ = r.ParseForm()
		gotToken = r.PostForm.Get("access_token")
		fmt.Fprint(w, `{"access_token":"at-1"}`)
	})
	c := newTestClient(t, mux)

	if err := c.RevokeToken(context.Background(), "at-1"); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if gotToken != "at-1" {
		t.Errorf("Expected access_token at-1, got %q", gotToken)
	}
}

func TestFetchActivities(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/athlete/activities", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			t.Errorf("Expected bearer header, got %q", got)
		}
		q := r.URL.Query()
		if q.Get("after") != "1690000000" || q.Get("page") != "2" || q.Get("per_page") != "100" {
			t.Errorf("Unexpected query: %v", q)
		}
		fmt.Fprint(w, `[
			{"id":101,"name":"Morning Run","type":"Run","sport_type":"TrailRun","distance":5000,"moving_time":1800,
			 "elapsed_time":1900,"total_elevation_gain":42.5,"start_date":"2023-07-22T06:30:00Z","location_city":"Bend"},
			{"id":102,"name":"Commute","type":"Ride","sport_type":"Ride","distance":12000.5,"moving_time":2400,
			 "elapsed_time":2500,"total_elevation_gain":10,"start_date":"2023-07-23T08:00:00Z","location_city":null}
		]`)
	})
	c := newTestClient(t, mux)

	acts, err := c.FetchActivities(context.Background(), "at-1", ListParams{After: 1690000000, Page: 2, PerPage: 100})
	if err != nil {
		t.Fatalf("FetchActivities: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("Expected 2 activities, got %d", len(acts))
	}
	if acts[0].ID != 101 || acts[0].Type != "Run" || acts[0].SportType != "TrailRun" {
		t.Errorf("Unexpected first activity: %+v", acts[0])
	}
	if acts[0].LocationCity == nil || *acts[0].LocationCity != "Bend" {
		t.Errorf("Expected location Bend, got %v", acts[0].LocationCity)
	}
	if acts[1].LocationCity != nil {
		t.Errorf("Expected nil location, got %v", *acts[1].LocationCity)
	}
	if !acts[0].StartDate.Equal(time.Date(2023, 7, 22, 6, 30, 0, 0, time.UTC)) {
		t.Errorf("Unexpected start date %v", acts[0].StartDate)
	}
	if !strings.Contains(string(acts[1].Raw), `"Commute"`) {
		t.Errorf("Expected raw payload to be kept, got %s", acts[1].Raw)
	}
}

func TestFetchActivity_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/activities/404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Record Not Found"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.FetchActivity(context.Background(), "at-1", 404)
	var apiErr *shared.ProviderAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *ProviderAPIError, got %T", err)
	}
	if apiErr.StatusCode != 404 || !strings.Contains(apiErr.Body, "Record Not Found") {
		t.Errorf("Unexpected error: %+v", apiErr)
	}
	if apiErr.Retryable() {
		t.Error("404 should not be retryable")
	}
}

func TestFetchActivity_Timeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/activities/7", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{APIBaseURL: srv.URL + "/api/v3", Timeout: 20 * time.Millisecond})

	_, err := c.FetchActivity(context.Background(), "at-1", 7)
	var apiErr *shared.ProviderAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *ProviderAPIError, got %T: %v", err, err)
	}
	if !apiErr.Timeout || !apiErr.Retryable() {
		t.Errorf("Expected retryable timeout, got %+v", apiErr)
	}
}

func TestAuthorizeURL(t *testing.T) {
	c := NewClient(Config{ClientID: "client-123", RedirectURL: "https://app.example.com/cb"})

	raw := c.AuthorizeURL("state-xyz", "", []string{"activity:read", "read"})
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "www.strava.com" || u.Path != "/oauth/authorize" {
		t.Errorf("Unexpected endpoint %s", raw)
	}
	q := u.Query()
	checks := map[string]string{
		"client_id":       "client-123",
		"response_type":   "code",
		"scope":           "activity:read,read",
		"approval_prompt": "auto",
		"state":           "state-xyz",
		"redirect_uri":    "https://app.example.com/cb",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}

	override := c.AuthorizeURL("s", "trailblazer://strava", nil)
	u, _ = url.Parse(override)
	if u.Query().Get("redirect_uri") != "trailblazer://strava" {
		t.Errorf("Expected redirect override, got %s", override)
	}
	if u.Query().Get("scope") != "activity:read" {
		t.Errorf("Expected default scope, got %s", u.Query().Get("scope"))
	}
}
