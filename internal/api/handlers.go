// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package api

import (
	"net/http"
	"strings"

	"github.com/tomtom215/routeguard/internal/audit"
	"github.com/tomtom215/routeguard/internal/auth"
	"github.com/tomtom215/routeguard/internal/csrf"
	"github.com/tomtom215/routeguard/internal/descriptor"
	"github.com/tomtom215/routeguard/internal/logging"
	"github.com/tomtom215/routeguard/internal/respond"
	"github.com/tomtom215/routeguard/internal/session"
)

// CSRFTokenResponse is the body of the csrf_token handler.
type CSRFTokenResponse struct {
	Token     string `json:"token"`
	Header    string `json:"header"`
	FormField string `json:"form_field"`
}

// SignInResponse is the machine-mode body of a successful sign-in.
type SignInResponse struct {
	Authenticated bool     `json:"authenticated"`
	Username      string   `json:"username"`
	Roles         []string `json:"roles"`
}

func (s *Server) whoami(*descriptor.Descriptor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := auth.ResultFromContext(r.Context())
		if res == nil {
			res = auth.Anonymous(auth.ClientIP(r), session.FromContext(r.Context()))
		}
		respond.JSON(r, http.StatusOK, res.Snapshot()).Write(w)
	})
}

func (s *Server) csrfToken(*descriptor.Descriptor) http.Handler {
	service := s.pipeline.CSRF()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(r, http.StatusOK, CSRFTokenResponse{
			Token:     csrf.Token(r.Context()),
			Header:    service.HeaderName(),
			FormField: service.FormFieldName(),
		}).Write(w)
	})
}

// signin checks the posted username and password against the user table
// and binds the user to a fresh session.
func (s *Server) signin(desc *descriptor.Descriptor) http.Handler {
	negotiator := s.pipeline.Negotiator()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		username := strings.TrimSpace(r.PostFormValue("username"))
		password := r.PostFormValue("password")
		source := audit.SourceFromRequest(r)

		user, ok := s.users.Verify(username, password)
		if username == "" || !ok {
			s.auditLogin(r, audit.Actor{Name: username}, source, false, "invalid credentials")
			negotiator.Unauthenticated(r, desc, "invalid credentials").Write(w)
			return
		}

		sess, err := s.sessions.Login(ctx, w, session.Principal{
			UserID:      "user:" + user.Username,
			Username:    user.Username,
			Roles:       user.Roles,
			Permissions: user.Permissions,
		})
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("Failed to create session on sign-in")
			negotiator.InternalError(r, desc).Write(w)
			return
		}

		s.auditLogin(r, audit.Actor{
			ID:         sess.UserID,
			Name:       sess.Username,
			Roles:      sess.Roles,
			SessionID:  logging.SanitizeSessionID(sess.ID),
			AuthMethod: "password",
		}, source, true, "")

		if negotiator.Mode(r, desc) == respond.ModeBrowser {
			respond.Redirect(r, safeRedirect(r.PostFormValue("next"))).Write(w)
			return
		}
		respond.JSON(r, http.StatusOK, SignInResponse{
			Authenticated: true,
			Username:      sess.Username,
			Roles:         append([]string{}, sess.Roles...),
		}).Write(w)
	})
}

func (s *Server) signout(desc *descriptor.Descriptor) http.Handler {
	negotiator := s.pipeline.Negotiator()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		res := auth.ResultFromContext(ctx)

		if err := s.sessions.Logout(ctx, w); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("Failed to delete session on sign-out")
			negotiator.InternalError(r, desc).Write(w)
			return
		}
		if s.audit != nil && res != nil {
			actor := audit.Actor{ID: res.UserID(), AuthMethod: res.StrategyName}
			s.audit.Logout(ctx, actor, audit.SourceFromRequest(r))
		}

		if negotiator.Mode(r, desc) == respond.ModeBrowser {
			respond.Redirect(r, negotiator.LoginPath()).Write(w)
			return
		}
		respond.JSON(r, http.StatusOK, map[string]bool{"signed_out": true}).Write(w)
	})
}

func (s *Server) auditLogin(r *http.Request, actor audit.Actor, source audit.Source, success bool, reason string) {
	if s.audit == nil {
		return
	}
	s.audit.Login(r.Context(), actor, source, success, reason)
}

// safeRedirect only follows local absolute paths.
func safeRedirect(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n") {
		return "/"
	}
	return next
}
