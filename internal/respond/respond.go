// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

// Package respond turns pipeline failures into HTTP responses, choosing
// between a JSON body for API clients and a redirect or plain text page for
// browsers. Every response carries the baseline security headers.
package respond

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
)

// Response is a ready-to-write HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Write copies the response to w.
func (r *Response) Write(w http.ResponseWriter) {
	dst := w.Header()
	for k, vs := range r.Header {
		dst[k] = append([]string(nil), vs...)
	}
	w.WriteHeader(r.Status)
	if len(r.Body) > 0 {
		_, _ = w.Write(r.Body)
	}
}

// DecodeJSON unmarshals the body into v. Mostly useful in tests.
func (r *Response) DecodeJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// ApplySecurityHeaders sets the hardening headers shared by success and
// failure responses. HSTS is added when the request arrived over TLS,
// directly or via a TLS-terminating proxy.
func ApplySecurityHeaders(h http.Header, r *http.Request) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("X-Frame-Options", "DENY")
	if r != nil && (r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https") {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// SecurityHeaders applies ApplySecurityHeaders to every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ApplySecurityHeaders(w.Header(), r)
		next.ServeHTTP(w, r)
	})
}

func newResponse(r *http.Request, status int) *Response {
	h := make(http.Header)
	ApplySecurityHeaders(h, r)
	h.Set("Cache-Control", "no-store")
	return &Response{Status: status, Header: h}
}

// JSON builds a JSON response from body.
func JSON(r *http.Request, status int, body any) *Response {
	resp := newResponse(r, status)
	data, err := json.Marshal(body)
	if err != nil {
		resp.Status = http.StatusInternalServerError
		data = []byte(`{"error":"Internal Server Error"}`)
	}
	resp.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp.Header.Set("Content-Length", strconv.Itoa(len(data)))
	resp.Body = data
	return resp
}

// Text builds a plain text response.
func Text(r *http.Request, status int, body string) *Response {
	resp := newResponse(r, status)
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Body = []byte(body)
	return resp
}

// Redirect builds a 302 to location.
func Redirect(r *http.Request, location string) *Response {
	resp := newResponse(r, http.StatusFound)
	resp.Header.Set("Location", location)
	return resp
}
