package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const defaultS3RequestTimeout = 30 * time.Second

// S3Config points an S3Store at any S3-compatible endpoint (AWS, MinIO, R2).
type S3Config struct {
	Endpoint       string // host[:port] or full URL
	Region         string // defaults to us-east-1
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	Prefix         string // prepended to every key
	PublicEndpoint string // base URL for FileRef.URL; empty means no URL
	RequestTimeout time.Duration
}

// Enabled reports whether enough is configured to talk to a bucket.
func (c S3Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != "" && strings.TrimSpace(c.Endpoint) != ""
}

// S3Store uploads objects with path-style PUT requests signed with SigV4.
type S3Store struct {
	cfg        S3Config
	endpoint   *url.URL
	httpClient *http.Client
	now        func() time.Time
}

var _ ObjectStore = (*S3Store)(nil)

func NewS3Store(cfg S3Config) (*S3Store, error) {
	if !cfg.Enabled() {
		return nil, errors.New("storage: s3 bucket and endpoint are required")
	}
	cfg.Bucket = strings.Trim(strings.TrimSpace(cfg.Bucket), "/")
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	if cfg.Region = strings.TrimSpace(cfg.Region); cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultS3RequestTimeout
	}

	host := strings.TrimSpace(cfg.Endpoint)
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	if strings.Contains(host, "://") {
		parsed, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("storage: parsing s3 endpoint: %w", err)
		}
		host, scheme = parsed.Host, parsed.Scheme
	}
	if host == "" {
		return nil, errors.New("storage: s3 endpoint has no host")
	}

	return &S3Store{
		cfg:        cfg,
		endpoint:   &url.URL{Scheme: scheme, Host: host},
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		now:        time.Now,
	}, nil
}

// Put uploads body under key. A non-2xx answer is an error carrying the status;
// transport failures keep their net.Error so callers can detect timeouts.
func (s *S3Store) Put(ctx context.Context, key, contentType string, body []byte) (Object, error) {
	finalKey := joinKey(s.cfg.Prefix, key)
	target := s.objectURL(finalKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(body))
	if err != nil {
		return Object{}, fmt.Errorf("storage: creating put request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	s.sign(req, sha256Hex(body))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Object{}, fmt.Errorf("storage: put %s: %w", finalKey, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Object{}, &StatusError{Key: finalKey, StatusCode: resp.StatusCode}
	}
	return Object{Key: finalKey, URL: joinURL(s.cfg.PublicEndpoint, finalKey)}, nil
}

// StatusError is a non-2xx response from the object store.
type StatusError struct {
	Key        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("storage: put %s: unexpected status %d", e.Key, e.StatusCode)
}

// Unavailable reports whether the store is overloaded or down rather than
// rejecting this particular object.
func (e *StatusError) Unavailable() bool {
	return e.StatusCode == http.StatusServiceUnavailable ||
		e.StatusCode == http.StatusBadGateway ||
		e.StatusCode == http.StatusGatewayTimeout ||
		e.StatusCode == http.StatusTooManyRequests
}

func (s *S3Store) objectURL(finalKey string) *url.URL {
	u := *s.endpoint
	u.Path = "/" + s.cfg.Bucket + "/" + strings.TrimLeft(finalKey, "/")
	return &u
}

// sign adds SigV4 headers. Without credentials the request goes out unsigned,
// which anonymous-write buckets and local MinIO setups accept.
func (s *S3Store) sign(req *http.Request, payloadHash string) {
	req.Host = req.URL.Host
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	if s.cfg.AccessKey == "" || s.cfg.SecretKey == "" {
		return
	}

	now := s.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	req.Header.Set("x-amz-date", amzDate)

	headers, signed := canonicalHeaders(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL),
		headers,
		signed,
		payloadHash,
	}, "\n")

	scope := dateStamp + "/" + s.cfg.Region + "/s3/aws4_request"
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	key := signingKey(s.cfg.SecretKey, dateStamp, s.cfg.Region)
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))
	req.Header.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		s.cfg.AccessKey, scope, signed, signature,
	))
}

func canonicalHeaders(req *http.Request) (string, string) {
	values := make(map[string]string, len(req.Header)+1)
	for name, vs := range req.Header {
		lower := strings.ToLower(name)
		if lower == "authorization" {
			continue
		}
		trimmed := make([]string, len(vs))
		for i, v := range vs {
			trimmed[i] = strings.TrimSpace(v)
		}
		values[lower] = strings.Join(trimmed, ",")
	}
	if _, ok := values["host"]; !ok && req.Host != "" {
		values["host"] = req.Host
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(values[name])
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";")
}

func canonicalURI(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func canonicalQuery(u *url.URL) string {
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil || len(q) == 0 {
		return ""
	}
	// Encode sorts by key; values need sorting too.
	for k := range q {
		sort.Strings(q[k])
	}
	return strings.ReplaceAll(q.Encode(), "+", "%20")
}

func signingKey(secret, dateStamp, region string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	k = hmacSHA256(k, []byte(region))
	k = hmacSHA256(k, []byte("s3"))
	return hmacSHA256(k, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
