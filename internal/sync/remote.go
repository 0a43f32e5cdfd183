package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xelth-com/fieldsync/internal/models"
	"github.com/xelth-com/fieldsync/internal/session"
)

// ErrorKind classifies a remote failure
type ErrorKind string

const (
	// KindTransient failures are retried on the next pass
	KindTransient ErrorKind = "transient"
	// KindPermanent failures drop the entry
	KindPermanent ErrorKind = "permanent"
)

// RemoteError is returned by Remote for any unsuccessful request
type RemoteError struct {
	Kind       ErrorKind
	StatusCode int
	Method     string
	Path       string
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		msg := fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
		if e.Body != "" {
			msg += ": " + e.Body
		}
		return msg
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried later. Unknown errors
// count as transient so nothing is dropped by mistake.
func IsTransient(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind == KindTransient
	}
	return err != nil
}

// IsPermanent reports whether the remote refused the request for good
func IsPermanent(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == KindPermanent
}

// ClassifyStatus maps an HTTP status to a failure kind. 2xx is not a failure
// and returns "".
func ClassifyStatus(code int) ErrorKind {
	switch {
	case code >= 200 && code < 300:
		return ""
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly, code == http.StatusTooManyRequests:
		return KindTransient
	case code >= 500:
		return KindTransient
	case code >= 400:
		return KindPermanent
	default:
		// 1xx/3xx are unexpected for an API call; try again later
		return KindTransient
	}
}

// Request is one write replayed against the remote
type Request struct {
	Method         string
	Path           string
	Body           []byte
	IdempotencyKey string
}

// Remote is the authoritative API
type Remote interface {
	// Do sends a write and returns the response body on success
	Do(ctx context.Context, req Request) ([]byte, error)
	// Fetch returns the snapshot at path
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// HTTPRemote talks JSON over HTTP with a bearer credential
type HTTPRemote struct {
	baseURL string
	session *session.Session
	client  *http.Client
}

// NewHTTPRemote creates a client for baseURL
func NewHTTPRemote(baseURL string, sess *session.Session, timeout time.Duration) *HTTPRemote {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		session: sess,
		client:  &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the remote root
func (r *HTTPRemote) BaseURL() string {
	return r.baseURL
}

// Do implements Remote
func (r *HTTPRemote) Do(ctx context.Context, req Request) ([]byte, error) {
	var body io.Reader
	if len(req.Body) > 0 && !bytes.Equal(req.Body, []byte("null")) {
		body = bytes.NewReader(req.Body)
	}
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}
	return r.send(ctx, req.Method, req.Path, body, headers)
}

// Fetch implements Remote
func (r *HTTPRemote) Fetch(ctx context.Context, path string) ([]byte, error) {
	return r.send(ctx, http.MethodGet, path, nil, nil)
}

func (r *HTTPRemote) send(ctx context.Context, method, path string, body io.Reader, headers map[string]string) ([]byte, error) {
	fail := func(kind ErrorKind, code int, respBody string, err error) *RemoteError {
		return &RemoteError{Kind: kind, StatusCode: code, Method: method, Path: path, Body: respBody, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, fail(KindPermanent, 0, "", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	if r.session != nil {
		httpReq.Header.Set("X-Device-ID", r.session.DeviceID)
		token, err := r.session.Bearer(ctx)
		if err != nil {
			return nil, fail(KindTransient, 0, "", err)
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		// Connectivity, DNS, timeouts and cancellation
		return nil, fail(KindTransient, 0, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fail(KindTransient, resp.StatusCode, "", err)
	}

	if kind := ClassifyStatus(resp.StatusCode); kind != "" {
		return nil, fail(kind, resp.StatusCode, snippet(data), nil)
	}
	return data, nil
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// createdID extracts the server id from a create response. Accepts
// {"id": ...} and {"data": {"id": ...}}.
func createdID(body []byte) string {
	var envelope struct {
		ID   json.RawMessage `json:"id"`
		Data struct {
			ID json.RawMessage `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	raw := envelope.ID
	if len(raw) == 0 {
		raw = envelope.Data.ID
	}
	id, err := models.IDFromJSON(raw)
	if err != nil {
		return ""
	}
	return id
}
