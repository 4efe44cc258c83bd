package signin

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"

	"github.com/ehr/patientctl/internal/domain/account"
)

// -- Mocks --

type mockIdentity struct {
	profile      *account.Profile
	err          error
	gotCode      string
	gotVerifier  string
	gotChallenge string
}

func (m *mockIdentity) AuthCodeURL(state, challenge, redirectURL string) string {
	m.gotChallenge = challenge
	q := url.Values{"state": {state}, "redirect_uri": {redirectURL}}
	return "https://idp.example.com/auth?" + q.Encode()
}

func (m *mockIdentity) Exchange(_ context.Context, code, verifier, _ string) (*account.Profile, error) {
	m.gotCode, m.gotVerifier = code, verifier
	if m.err != nil {
		return nil, m.err
	}
	return m.profile, nil
}

type mockAccounts struct {
	got *account.Profile
	err error
}

func (m *mockAccounts) SignIn(_ context.Context, p account.Profile) (*account.Patient, error) {
	m.got = &p
	if m.err != nil {
		return nil, m.err
	}
	return &account.Patient{ID: "42", Email: p.Email}, nil
}

// browserFollowing simulates the provider redirecting back with code.
func browserFollowing(t *testing.T, code string, tamper func(url.Values)) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		cb := url.Values{"code": {code}, "state": {q.Get("state")}}
		if tamper != nil {
			tamper(cb)
		}
		go func() {
			resp, err := http.Get(q.Get("redirect_uri") + "?" + cb.Encode())
			if err != nil {
				t.Errorf("callback request failed: %v", err)
				return
			}
			resp.Body.Close()
		}()
		return nil
	}
}

// -- Tests --

func TestGeneratePKCE(t *testing.T) {
	v1, c1, err := generatePKCE()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, _, _ := generatePKCE()
	if v1 == v2 {
		t.Error("expected distinct verifiers")
	}
	if len(v1) != 43 {
		t.Errorf("expected 43 char verifier, got %d", len(v1))
	}
	if c1 != s256(v1) || strings.ContainsAny(c1, "+/=") {
		t.Errorf("unexpected challenge %q", c1)
	}
}

func TestS256_KnownVector(t *testing.T) {
	// RFC 7636 appendix B.
	got := s256("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk")
	if got != "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM" {
		t.Errorf("unexpected challenge %s", got)
	}
}

func TestFlow_Run(t *testing.T) {
	identity := &mockIdentity{profile: &account.Profile{ID: "g-1", Email: "ada@example.com"}}
	accounts := &mockAccounts{}
	flow := NewFlow(identity, accounts, 0,
		WithBrowser(browserFollowing(t, "auth-code", nil)),
		WithTimeout(5*time.Second),
	)

	patient, err := flow.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if patient.ID != "42" {
		t.Errorf("expected patient 42, got %s", patient.ID)
	}
	if identity.gotCode != "auth-code" {
		t.Errorf("expected code exchanged, got %q", identity.gotCode)
	}
	if s256(identity.gotVerifier) != identity.gotChallenge {
		t.Error("expected verifier to match the challenge sent")
	}
	if accounts.got == nil || accounts.got.Email != "ada@example.com" {
		t.Errorf("expected profile passed to sign-in, got %+v", accounts.got)
	}
}

func TestFlow_ProviderError(t *testing.T) {
	identity := &mockIdentity{}
	flow := NewFlow(identity, &mockAccounts{}, 0,
		WithBrowser(browserFollowing(t, "", func(v url.Values) {
			v.Del("code")
			v.Set("error", "access_denied")
		})),
		WithTimeout(5*time.Second),
	)

	_, err := flow.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "access_denied") {
		t.Fatalf("expected access_denied error, got %v", err)
	}
}

func TestFlow_ExchangeError(t *testing.T) {
	identity := &mockIdentity{err: errors.New("bad code")}
	accounts := &mockAccounts{}
	flow := NewFlow(identity, accounts, 0,
		WithBrowser(browserFollowing(t, "x", nil)),
		WithTimeout(5*time.Second),
	)

	if _, err := flow.Run(context.Background()); err == nil {
		t.Fatal("expected exchange error")
	}
	if accounts.got != nil {
		t.Error("expected no backend sign-in")
	}
}

func TestFlow_Timeout(t *testing.T) {
	flow := NewFlow(&mockIdentity{}, &mockAccounts{}, 0,
		WithBrowser(func(string) error { return errors.New("no browser") }),
		WithTimeout(50*time.Millisecond),
	)
	_, err := flow.Run(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCallbackHandler_StateMismatch(t *testing.T) {
	identity := &mockIdentity{profile: &account.Profile{ID: "g-1", Email: "a@b.c"}}
	flow := NewFlow(identity, &mockAccounts{}, 0)
	results := make(chan callbackResult, 1)

	e := echo.New()
	e.GET(CallbackPath, flow.callbackHandler("expected", "verifier", "http://127.0.0.1/callback", results))

	req := httptest.NewRequest(http.MethodGet, CallbackPath+"?code=c&state=forged", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if identity.gotCode != "" {
		t.Error("expected no exchange on state mismatch")
	}
	select {
	case r := <-results:
		t.Errorf("expected flow to keep waiting, got %+v", r)
	default:
	}
}

func TestCallbackHandler_ErrorWithoutValidState(t *testing.T) {
	flow := NewFlow(&mockIdentity{}, &mockAccounts{}, 0)
	results := make(chan callbackResult, 1)

	e := echo.New()
	e.GET(CallbackPath, flow.callbackHandler("expected", "v", "http://127.0.0.1/callback", results))

	for _, query := range []string{"?error=access_denied", "?error=access_denied&state=forged"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, CallbackPath+query, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", query, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), ErrStateMismatch.Error()) {
			t.Errorf("%s: expected state mismatch body, got %q", query, rec.Body.String())
		}
	}
	select {
	case r := <-results:
		t.Errorf("expected flow to keep waiting, got %+v", r)
	default:
	}
}

func TestCallbackHandler_MissingCode(t *testing.T) {
	flow := NewFlow(&mockIdentity{}, &mockAccounts{}, 0)
	e := echo.New()
	e.GET(CallbackPath, flow.callbackHandler("s", "v", "http://127.0.0.1/callback", make(chan callbackResult, 1)))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, CallbackPath+"?state=s", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// -- OIDC provider --

const (
	testIssuer   = "https://issuer.example.com"
	testClientID = "client-1"
)

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign id token: %v", err)
	}
	return tok
}

func TestOIDCProvider_Exchange(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	idToken := signIDToken(t, key, jwt.MapClaims{
		"iss":            testIssuer,
		"aud":            testClientID,
		"sub":            "g-123",
		"email":          "ada@example.com",
		"email_verified": true,
		"name":           "Ada Lovelace",
		"picture":        "https://img.example.com/ada.png",
		"iat":            time.Now().Unix(),
		"exp":            time.Now().Add(time.Hour).Unix(),
	})

	var form url.Values
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "provider-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	}))
	defer tokenSrv.Close()

	cfg := &oauth2.Config{
		ClientID: testClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   testIssuer + "/auth",
			TokenURL:  tokenSrv.URL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{oidc.ScopeOpenID, "profile", "email"},
	}
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	p := newOIDCProvider(cfg, oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testClientID}))

	profile, err := p.Exchange(context.Background(), "the-code", "the-verifier", "http://127.0.0.1:8765/callback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.ID != "g-123" || profile.Email != "ada@example.com" || !profile.VerifiedEmail {
		t.Errorf("unexpected profile %+v", profile)
	}
	if profile.Name != "Ada Lovelace" || profile.Picture == "" {
		t.Errorf("expected name and picture claims, got %+v", profile)
	}
	if form.Get("code") != "the-code" || form.Get("code_verifier") != "the-verifier" {
		t.Errorf("unexpected token request %v", form)
	}
	if form.Get("redirect_uri") != "http://127.0.0.1:8765/callback" {
		t.Errorf("unexpected redirect_uri %q", form.Get("redirect_uri"))
	}
}

func TestOIDCProvider_RejectsForeignAudience(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	idToken := signIDToken(t, key, jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   "someone-else",
		"sub":   "g-123",
		"email": "ada@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "a", "token_type": "Bearer", "id_token": idToken})
	}))
	defer tokenSrv.Close()

	cfg := &oauth2.Config{ClientID: testClientID, Endpoint: oauth2.Endpoint{TokenURL: tokenSrv.URL, AuthStyle: oauth2.AuthStyleInParams}}
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	p := newOIDCProvider(cfg, oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testClientID}))

	if _, err := p.Exchange(context.Background(), "c", "v", "http://127.0.0.1/callback"); err == nil {
		t.Fatal("expected audience verification failure")
	}
}

func TestOIDCProvider_AuthCodeURL(t *testing.T) {
	cfg := &oauth2.Config{ClientID: testClientID, Endpoint: oauth2.Endpoint{AuthURL: testIssuer + "/auth"}, Scopes: []string{"openid"}}
	p := newOIDCProvider(cfg, nil)

	u, err := url.Parse(p.AuthCodeURL("st", "ch", "http://127.0.0.1:8765/callback"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "st" || q.Get("code_challenge") != "ch" || q.Get("code_challenge_method") != "S256" {
		t.Errorf("unexpected auth params %v", q)
	}
	if q.Get("redirect_uri") != "http://127.0.0.1:8765/callback" || q.Get("client_id") != testClientID {
		t.Errorf("unexpected auth params %v", q)
	}
}
