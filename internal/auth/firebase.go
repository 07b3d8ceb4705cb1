package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mbd888/zapshift/internal/apperr"
)

// GoogleCertsURL publishes the x509 certificates that sign Firebase ID tokens.
const GoogleCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

const defaultCertsTTL = time.Hour

// minRefreshInterval bounds cert refetches triggered by unknown key IDs
// while the cached set is still fresh.
const minRefreshInterval = time.Minute

// ErrCertsUnavailable means the signing certificates could not be fetched.
var ErrCertsUnavailable = fmt.Errorf("identity provider signing keys unavailable: %w", apperr.ErrUpstreamUnavailable)

// FirebaseVerifier validates Firebase Authentication ID tokens.
type FirebaseVerifier struct {
	projectID string
	certsURL  string
	client    *http.Client
	now       func() time.Time

	refreshMu sync.Mutex
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	fetchedAt time.Time
}

// FirebaseOption configures a FirebaseVerifier.
type FirebaseOption func(*FirebaseVerifier)

// WithCertsURL overrides the certificate endpoint.
func WithCertsURL(url string) FirebaseOption {
	return func(v *FirebaseVerifier) { v.certsURL = url }
}

// WithHTTPClient sets the client used to fetch certificates.
func WithHTTPClient(c *http.Client) FirebaseOption {
	return func(v *FirebaseVerifier) { v.client = c }
}

// NewFirebaseVerifier creates a verifier for tokens minted for projectID.
func NewFirebaseVerifier(projectID string, opts ...FirebaseOption) *FirebaseVerifier {
	v := &FirebaseVerifier{
		projectID: projectID,
		certsURL:  GoogleCertsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Issuer is the expected iss claim.
func (v *FirebaseVerifier) Issuer() string {
	return "https://securetoken.google.com/" + v.projectID
}

// Verify parses and validates a Firebase ID token.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("token has no kid header")
			}
			return v.publicKey(ctx, kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer(v.Issuer()),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if errors.Is(err, ErrCertsUnavailable) {
		return nil, ErrCertsUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return identityFromClaims(claims)
}

func (v *FirebaseVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok, stale := v.cached(kid); ok || !stale {
		if !ok {
			return nil, fmt.Errorf("unknown signing key %q", kid)
		}
		return key, nil
	}

	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()

	// Another caller may have refreshed while this one waited.
	if key, ok, stale := v.cached(kid); ok || !stale {
		if !ok {
			return nil, fmt.Errorf("unknown signing key %q", kid)
		}
		return key, nil
	}

	if err := v.refresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertsUnavailable, err)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

// cached looks kid up in the key set. stale reports whether a refetch is
// allowed: the set has expired, or kid is unknown and the last fetch is
// older than minRefreshInterval.
func (v *FirebaseVerifier) cached(kid string) (key *rsa.PublicKey, ok, stale bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	now := v.now()
	key, ok = v.keys[kid]
	fresh := now.Before(v.expiresAt)
	if ok && fresh {
		return key, true, false
	}
	if !fresh {
		return nil, false, true
	}
	return nil, false, now.Sub(v.fetchedAt) >= minRefreshInterval
}

func (v *FirebaseVerifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch signing certs: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch signing certs: status %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return fmt.Errorf("decode signing certs: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, certPEM := range certs {
		key, err := parseCertKey(certPEM)
		if err != nil {
			return fmt.Errorf("cert %s: %w", kid, err)
		}
		keys[kid] = key
	}

	now := v.now()
	v.mu.Lock()
	v.keys = keys
	v.fetchedAt = now
	v.expiresAt = now.Add(cacheTTL(resp.Header.Get("Cache-Control")))
	v.mu.Unlock()
	return nil
}

func parseCertKey(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return key, nil
}

// cacheTTL reads max-age from a Cache-Control header.
func cacheTTL(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultCertsTTL
}

var _ Verifier = (*FirebaseVerifier)(nil)
