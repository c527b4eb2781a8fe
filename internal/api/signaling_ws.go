/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/relaydesk/internal/session"
	"github.com/friendsincode/relaydesk/internal/signaling"
)

// handleSignaling upgrades the request and hands the connection to the
// signaling handler. The request context is cancelled on server shutdown,
// which ends the channel and disconnects the session.
func (a *API) handleSignaling(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	conn, err := ws.Accept(w, r, nil)
	if err != nil {
		a.logger.Debug().Err(err).Str("session_code", code).Msg("websocket accept failed")
		return
	}
	conn.SetReadLimit(4096)

	err = a.signaling.HandleConnection(r.Context(), code, signaling.NewWebSocketConn(conn))
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrSessionUnavailable):
		a.logger.Debug().Err(err).Str("session_code", code).Msg("signaling rejected")
	default:
		a.logger.Warn().Err(err).Str("session_code", code).Msg("signaling ended with error")
	}
}
