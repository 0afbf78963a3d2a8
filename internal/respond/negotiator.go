// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package respond

import (
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/routeguard/internal/authz"
	"github.com/tomtom215/routeguard/internal/descriptor"
)

// DefaultLoginPath is where browsers are sent after an authentication failure.
const DefaultLoginPath = "/signin"

// Mode is the response style chosen for a request.
type Mode int

// Response modes.
const (
	ModeBrowser Mode = iota
	ModeMachine
)

// AuthError is the 401 JSON body.
type AuthError struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ForbiddenError is the 403 JSON body. Required and Actual are only set for
// authorization denials.
type ForbiddenError struct {
	Error    string   `json:"error"`
	Message  string   `json:"message"`
	Required []string `json:"required,omitempty"`
	Actual   []string `json:"actual,omitempty"`
}

// Negotiator builds failure responses.
type Negotiator struct {
	loginPath string
	now       func() time.Time
}

// NewNegotiator creates a negotiator. An empty loginPath uses DefaultLoginPath.
func NewNegotiator(loginPath string) *Negotiator {
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	return &Negotiator{loginPath: loginPath, now: time.Now}
}

// LoginPath returns the browser redirect target.
func (n *Negotiator) LoginPath() string { return n.loginPath }

// Mode picks the response style. A declared format wins; otherwise the
// request must ask for JSON explicitly, and everything else is treated as
// a browser.
func (n *Negotiator) Mode(r *http.Request, desc *descriptor.Descriptor) Mode {
	if desc != nil {
		switch desc.Format() {
		case descriptor.FormatJSON:
			return ModeMachine
		case descriptor.FormatHTML, descriptor.FormatRedirect:
			return ModeBrowser
		}
	}
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return ModeMachine
	}
	if prefersJSON(r.Header.Get("Accept")) {
		return ModeMachine
	}
	return ModeBrowser
}

// Unauthenticated builds the response for a failed authentication chain.
func (n *Negotiator) Unauthenticated(r *http.Request, desc *descriptor.Descriptor, reason string) *Response {
	if n.Mode(r, desc) == ModeBrowser {
		return Redirect(r, n.loginPath)
	}
	return JSON(r, http.StatusUnauthorized, AuthError{
		Error:     "Authentication Required",
		Message:   reason,
		Timestamp: n.now().Unix(),
	})
}

// Forbidden builds the response for an authorization denial. Browsers get
// plain text rather than a redirect since signing in again will not add
// the missing claims.
func (n *Negotiator) Forbidden(r *http.Request, desc *descriptor.Descriptor, d *authz.Denial) *Response {
	if n.Mode(r, desc) == ModeBrowser {
		return Text(r, http.StatusForbidden, "Forbidden: "+d.Message())
	}
	return JSON(r, http.StatusForbidden, ForbiddenError{
		Error:    "Forbidden",
		Message:  d.Message(),
		Required: d.Required,
		Actual:   nonNil(d.Actual),
	})
}

// CSRFRejected builds the 403 for a missing or invalid anti-forgery token.
// The body is JSON regardless of the client.
func (n *Negotiator) CSRFRejected(r *http.Request, message string) *Response {
	return JSON(r, http.StatusForbidden, ForbiddenError{
		Error:   "Forbidden",
		Message: message,
	})
}

// InternalError builds a 500 without leaking detail.
func (n *Negotiator) InternalError(r *http.Request, desc *descriptor.Descriptor) *Response {
	if n.Mode(r, desc) == ModeBrowser {
		return Text(r, http.StatusInternalServerError, "Internal Server Error")
	}
	return JSON(r, http.StatusInternalServerError, map[string]string{
		"error":   "Internal Server Error",
		"message": "authentication could not be completed",
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// prefersJSON reports whether the Accept header ranks a JSON media type at
// least as high as HTML. Wildcards alone do not count as a preference.
func prefersJSON(accept string) bool {
	if accept == "" {
		return false
	}

	var jsonQ, htmlQ float64
	for _, part := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		q := 1.0
		if v, ok := params["q"]; ok {
			if parsed, perr := strconv.ParseFloat(v, 64); perr == nil {
				q = parsed
			}
		}

		switch {
		case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
			jsonQ = max(jsonQ, q)
		case mediaType == "text/html" || mediaType == "application/xhtml+xml":
			htmlQ = max(htmlQ, q)
		}
	}
	return jsonQ > 0 && jsonQ >= htmlQ
}
