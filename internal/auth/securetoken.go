package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/model"
)

// DefaultCertsURL publishes the X.509 certificates that sign secure-token
// ID tokens, as a JSON object of key id → PEM certificate.
const DefaultCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

const (
	defaultCertsMaxAge = time.Hour
	// Unknown key ids trigger a refetch at most this often, so a flood of
	// forged tokens cannot turn into a flood of certificate requests.
	minCertsRefetch = time.Minute
	// A refresh is shared by every waiting Verify, so it runs on its own
	// deadline rather than the first caller's.
	certsFetchTimeout = 10 * time.Second
)

// SecureTokenConfig configures a SecureTokenVerifier.
type SecureTokenConfig struct {
	ProjectID  string
	CertsURL   string       // defaults to DefaultCertsURL
	HTTPClient *http.Client // defaults to a client with a 10s timeout
}

// SecureTokenVerifier verifies RS256 ID tokens issued for a project.
//
// Issuer must be https://securetoken.google.com/<project> and the audience
// the project id. Signing keys are fetched lazily and cached for the
// max-age the certificate endpoint advertises. Concurrent refreshes collapse
// into one request, and cached keys keep serving if a refresh fails.
// Safe for concurrent use.
type SecureTokenVerifier struct {
	projectID string
	issuer    string
	certsURL  string
	client    *http.Client

	refresh singleflight.Group

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	fetchedAt time.Time
	now       func() time.Time
}

func NewSecureTokenVerifier(cfg SecureTokenConfig) (*SecureTokenVerifier, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("auth: secure token project id is required")
	}
	if cfg.CertsURL == "" {
		cfg.CertsURL = DefaultCertsURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SecureTokenVerifier{
		projectID: cfg.ProjectID,
		issuer:    "https://securetoken.google.com/" + cfg.ProjectID,
		certsURL:  cfg.CertsURL,
		client:    cfg.HTTPClient,
		now:       time.Now,
	}, nil
}

// Verify checks signature, issuer, audience, expiry and issued-at.
// Failing to load signing keys is reported as ErrUnavailable, not as an
// invalid token, so callers can answer 503 instead of 401.
func (v *SecureTokenVerifier) Verify(ctx context.Context, idToken string) (*model.Identity, error) {
	var c idTokenClaims
	_, err := jwt.ParseWithClaims(
		idToken,
		&c,
		func(token *jwt.Token) (any, error) {
			kid, _ := token.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("token has no key id")
			}
			return v.key(ctx, kid)
		},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, apperror.ErrUnavailable) {
			return nil, err
		}
		return nil, invalidToken(err)
	}

	identity, err := c.identity()
	if err != nil {
		return nil, invalidToken(err)
	}
	return identity, nil
}

// key returns the public key for kid, refreshing the cache when it has
// expired or does not know kid. The lock is never held across the fetch;
// callers wait on the shared refresh only until their own ctx is done.
func (v *SecureTokenVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	now := v.now()
	k, known := v.keys[kid]
	fresh := now.Before(v.expiresAt)
	throttled := now.Sub(v.fetchedAt) < minCertsRefetch
	v.mu.Unlock()

	if known && fresh {
		return k, nil
	}
	if fresh && throttled {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}

	ch := v.refresh.DoChan("certs", func() (any, error) {
		return nil, v.reload()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			if known {
				return k, nil
			}
			return nil, apperror.Unavailable("identity provider unavailable", res.Err)
		}
	case <-ctx.Done():
		if known {
			return k, nil
		}
		return nil, apperror.Unavailable("identity provider unavailable", ctx.Err())
	}

	v.mu.Lock()
	k, ok := v.keys[kid]
	v.mu.Unlock()
	if ok {
		return k, nil
	}
	return nil, fmt.Errorf("unknown key id %q", kid)
}

// reload fetches the certificates and swaps them in. A failed fetch leaves
// the previous keys in place.
func (v *SecureTokenVerifier) reload() error {
	ctx, cancel := context.WithTimeout(context.Background(), certsFetchTimeout)
	defer cancel()

	keys, maxAge, err := v.fetch(ctx)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	v.keys = keys
	v.fetchedAt = now
	v.expiresAt = now.Add(maxAge)
	return nil
}

func (v *SecureTokenVerifier) fetch(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating certs request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching certs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("fetching certs: unexpected status %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&certs); err != nil {
		return nil, 0, fmt.Errorf("decoding certs: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, certPEM := range certs {
		key, err := parseRSACertificate(certPEM)
		if err != nil {
			return nil, 0, fmt.Errorf("parsing cert %s: %w", kid, err)
		}
		keys[kid] = key
	}

	return keys, cacheMaxAge(resp.Header.Get("Cache-Control")), nil
}

func parseRSACertificate(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate does not hold an RSA key")
	}
	return key, nil
}

// cacheMaxAge reads max-age from a Cache-Control header value.
func cacheMaxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		secs, err := strconv.Atoi(value)
		if err != nil || secs <= 0 {
			break
		}
		return time.Duration(secs) * time.Second
	}
	return defaultCertsMaxAge
}
