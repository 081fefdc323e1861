package client

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/panyam/tokenpipe"
)

// Transport is an http.RoundTripper that adds the pipeline's credential to
// each request and recovers from a 401 by refreshing and replaying once.
type Transport struct {
	Pipeline *Pipeline
	Base     http.RoundTripper

	// Origin, when set, is the scheme://host the credential belongs to.
	// Requests for any other origin, including redirects, go to Base untouched.
	Origin string
}

// NewTransport wraps base with p. A nil base uses http.DefaultTransport.
func NewTransport(p *Pipeline, base http.RoundTripper) *Transport {
	return &Transport{Pipeline: p, Base: base}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// owns reports whether u may carry the credential.
func (t *Transport) owns(u *url.URL) bool {
	if t.Origin == "" {
		return true
	}
	return strings.EqualFold(u.Scheme+"://"+u.Host, t.Origin)
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.owns(req.URL) {
		t.Pipeline.logger.Debug("foreign origin, sending without credential", "host", req.URL.Host)
		return t.base().RoundTrip(req)
	}
	ctx := req.Context()

	cred, err := t.Pipeline.Authorize(ctx, req.URL.Path)
	if err != nil {
		// RoundTrip must always close the body, even on errors
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}

	resp, err := t.base().RoundTrip(withCredential(req, cred))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	state := RetryStateFrom(ctx)
	if !t.Pipeline.CanRecover(cred, state) || !replayable(req) {
		return resp, nil
	}

	next, err := t.Pipeline.Recover(ctx, cred)
	if err != nil {
		if tokenpipe.IsTransient(err) || ctx.Err() != nil {
			drain(resp)
			return nil, err
		}
		// terminal: the session is gone, the caller sees the server's 401
		t.Pipeline.logger.Debug("not replaying after 401", "path", req.URL.Path, "error", err)
		return resp, nil
	}
	drain(resp)

	replay := req.Clone(WithRetryState(ctx, state.Next()))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		replay.Body = body
	}

	resp, err = t.base().RoundTrip(withCredential(replay, next))
	if err != nil {
		t.Pipeline.metrics.RecordReplay("error")
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.Pipeline.metrics.RecordReplay("unauthorized")
	} else {
		t.Pipeline.metrics.RecordReplay("ok")
	}
	return resp, nil
}

// withCredential returns a clone of req carrying cred. The caller's request
// is never modified.
func withCredential(req *http.Request, cred *tokenpipe.Credential) *http.Request {
	if cred == nil {
		return req
	}
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", cred.AuthorizationHeader())
	return out
}

// replayable reports whether the body of req can be sent a second time.
func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
