package signin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/patientctl/internal/domain/account"
)

const (
	CallbackPath   = "/callback"
	DefaultTimeout = 5 * time.Minute
)

var ErrStateMismatch = errors.New("sign-in state mismatch")

// Identity is an identity provider driven through a browser redirect.
type Identity interface {
	AuthCodeURL(state, codeChallenge, redirectURL string) string
	Exchange(ctx context.Context, code, codeVerifier, redirectURL string) (*account.Profile, error)
}

// Accounts registers a verified profile with the backend.
type Accounts interface {
	SignIn(ctx context.Context, p account.Profile) (*account.Patient, error)
}

// Flow runs the loopback sign-in: it serves the redirect target on
// 127.0.0.1, sends the user to the provider and waits for the callback.
type Flow struct {
	identity Identity
	accounts Accounts
	port     int
	timeout  time.Duration
	open     func(url string) error
	logger   zerolog.Logger
}

type FlowOption func(*Flow)

// WithBrowser replaces the function that opens the authorization URL.
func WithBrowser(open func(url string) error) FlowOption {
	return func(f *Flow) { f.open = open }
}

func WithTimeout(d time.Duration) FlowOption {
	return func(f *Flow) { f.timeout = d }
}

func WithLogger(l zerolog.Logger) FlowOption {
	return func(f *Flow) { f.logger = l }
}

func NewFlow(identity Identity, accounts Accounts, port int, opts ...FlowOption) *Flow {
	f := &Flow{
		identity: identity,
		accounts: accounts,
		port:     port,
		timeout:  DefaultTimeout,
		open:     OpenBrowser,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type callbackResult struct {
	profile *account.Profile
	err     error
}

// Run completes a sign-in and returns the backend patient.
func (f *Flow) Run(ctx context.Context) (*account.Patient, error) {
	state, err := randomToken(24)
	if err != nil {
		return nil, err
	}
	verifier, challenge, err := generatePKCE()
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", f.port))
	if err != nil {
		return nil, fmt.Errorf("listen for sign-in callback: %w", err)
	}
	redirectURL := fmt.Sprintf("http://%s%s", ln.Addr().String(), CallbackPath)

	results := make(chan callbackResult, 1)
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET(CallbackPath, f.callbackHandler(state, verifier, redirectURL, results))

	srv := &http.Server{Handler: e, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error().Err(err).Msg("sign-in callback server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := f.identity.AuthCodeURL(state, challenge, redirectURL)
	f.logger.Info().Str("redirect_url", redirectURL).Msg("waiting for sign-in callback")
	if err := f.open(authURL); err != nil {
		f.logger.Warn().Err(err).Str("url", authURL).Msg("could not open browser, visit the URL manually")
	}

	waitCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var res callbackResult
	select {
	case res = <-results:
	case <-waitCtx.Done():
		return nil, fmt.Errorf("sign-in not completed: %w", waitCtx.Err())
	}
	if res.err != nil {
		return nil, res.err
	}
	return f.accounts.SignIn(ctx, *res.profile)
}

func (f *Flow) callbackHandler(state, verifier, redirectURL string, results chan<- callbackResult) echo.HandlerFunc {
	return func(c echo.Context) error {
		deliver := func(r callbackResult) {
			select {
			case results <- r:
			default:
			}
		}

		if c.QueryParam("state") != state {
			// Stray or forged requests do not end the flow.
			return c.String(http.StatusBadRequest, ErrStateMismatch.Error())
		}
		if msg := c.QueryParam("error"); msg != "" {
			deliver(callbackResult{err: fmt.Errorf("provider denied sign-in: %s", msg)})
			return c.String(http.StatusBadRequest, "Sign-in was cancelled. You can close this window.")
		}
		code := c.QueryParam("code")
		if code == "" {
			return c.String(http.StatusBadRequest, "missing authorization code")
		}

		profile, err := f.identity.Exchange(c.Request().Context(), code, verifier, redirectURL)
		if err != nil {
			f.logger.Error().Err(err).Msg("sign-in code exchange failed")
			deliver(callbackResult{err: err})
			return c.String(http.StatusBadGateway, "Sign-in failed. You can close this window.")
		}
		deliver(callbackResult{profile: profile})
		return c.String(http.StatusOK, "Signed in. You can close this window.")
	}
}

// OpenBrowser opens url in the user's default browser.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
