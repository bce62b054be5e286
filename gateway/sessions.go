package gateway

import (
	"net/http"

	"github.com/OrchardMediaLabs/orchard/broker"
	"github.com/OrchardMediaLabs/orchard/models"
	"github.com/pkg/errors"
)

func (c *Core) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if !c.decodeBody(w, r, &req) {
		return
	}

	// Optionally prove the triple against the provider before minting.
	// The default is lazy: a bad triple surfaces on first use.
	if c.cfg.Sessions.ValidateOnCreate {
		if req.CloudName == "" || req.APIKey == "" || req.APISecret == "" {
			c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingCredentials, "cloudName, apiKey, and apiSecret are required")
			return
		}
		ctx, cancel := c.remoteCtx(r)
		defer cancel()
		creds := broker.Session{CloudName: req.CloudName, APIKey: req.APIKey, APISecret: req.APISecret}
		if err := c.remote.Ping(ctx, creds.Credentials()); err != nil {
			c.writeRemoteError(w, "credential validation", err)
			return
		}
	}

	session, err := c.sessions.Create(req.CloudName, req.APIKey, req.APISecret)
	if err != nil {
		var missing *broker.ErrMissingCredentials
		if errors.As(err, &missing) {
			c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingCredentials, "cloudName, apiKey, and apiSecret are required")
			return
		}
		c.logger.Error("Could not create session", "error", err)
		c.writeError(w, http.StatusInternalServerError, models.ErrorTypeMissingCredentials, "could not create session")
		return
	}

	c.logger.Info("Session created", "session_id", session.ID, "cloud_name", session.CloudName)
	c.publish(models.TopicSessions, "created", map[string]string{"sessionId": session.ID})

	c.writeJSON(w, models.CreateSessionResponse{SessionID: session.ID})
}

func (c *Core) revokeSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RevokeSessionRequest
	if !c.decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingParameter, "sessionId is required")
		return
	}

	c.sessions.Revoke(req.SessionID)
	c.logger.Info("Session revoked", "session_id", req.SessionID)
	c.publish(models.TopicSessions, "revoked", map[string]string{"sessionId": req.SessionID})

	c.writeJSON(w, models.SuccessResponse{Success: true})
}
