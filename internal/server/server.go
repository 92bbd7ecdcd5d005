// Package server exposes the provisioning protocol on a single CBOR POST
// endpoint and a small JSON admin plane for inspecting and mutating the
// catalog.
package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openwallet-foundation-labs/identity-credential/internal/flows"
	"github.com/openwallet-foundation-labs/identity-credential/internal/session"
	"github.com/openwallet-foundation-labs/identity-credential/internal/storage"
)

// flow is what the dispatcher needs from a flow instance.
type flow interface {
	session.Flow
	SetSession(string)
}

// Server routes protocol messages to flow state machines and serves the
// admin plane.
type Server struct {
	store    *storage.Store
	sessions *session.Registry
	deps     flows.Deps
	log      *zap.Logger
	engine   *gin.Engine
}

// New wires the HTTP routes. The issuer key and certificate live for the
// whole process so that everything signed by this server chains to one
// issuer identity.
func New(store *storage.Store, sessions *session.Registry, deps flows.Deps, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		store:    store,
		sessions: sessions,
		deps:     deps,
		log:      log,
		engine:   engine,
	}

	engine.POST("/mdlServer", s.handleMessage)

	admin := engine.Group("/admin")
	admin.GET("/persons", s.listPersons)
	admin.GET("/persons/:id", s.getPerson)
	admin.GET("/portrait", s.getPortrait)
	admin.POST("/documents/:id/update", s.updateDocumentData)
	admin.POST("/configured/:id/to-delete", s.markToDelete)

	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.log.Info("listening", zap.String("addr", addr))
	return s.engine.Run(addr)
}

// handleMessage is the protocol dispatcher. Flow-initiating messages
// allocate a session; continuations are routed by eSessionId. A missing
// session, unknown message type or undecodable body is answered with a
// plain 500 since there is no session context to report into.
func (s *Server) handleMessage(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	var env flows.Envelope
	if err := cbor.Unmarshal(body, &env); err != nil || env.MessageType == "" {
		s.log.Warn("undecodable message envelope")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	if env.MessageType == flows.MsgRequestEndSession {
		if _, err := s.sessions.Lookup(env.ESessionID); err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		s.endSession(c, env.ESessionID, flows.ReasonSuccess, "")
		return
	}

	if f, ok := s.newFlow(env.MessageType); ok {
		id, err := s.sessions.Create(f)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		f.SetSession(id)
		s.deliver(c, id, f, env.MessageType, body)
		return
	}

	if continuations[env.MessageType] {
		f, err := s.sessions.Lookup(env.ESessionID)
		if err != nil {
			s.log.Warn("message for unknown session",
				zap.String("messageType", env.MessageType),
				zap.String("eSessionId", env.ESessionID))
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		s.deliver(c, env.ESessionID, f, env.MessageType, body)
		return
	}

	s.log.Warn("unknown message type", zap.String("messageType", env.MessageType))
	c.AbortWithStatus(http.StatusInternalServerError)
}

func (s *Server) newFlow(msgType string) (flow, bool) {
	switch msgType {
	case flows.MsgStartProvisioningGeneric:
		return flows.NewProvisioning(s.deps), true
	case flows.MsgCertifyAuthKeys:
		return flows.NewCertifyAuthKeys(s.deps), true
	case flows.MsgUpdateCredential:
		return flows.NewUpdate(s.deps), true
	case flows.MsgDeleteCredential:
		return flows.NewDelete(s.deps), true
	}
	return nil, false
}

// continuations lists every message type that must carry a live eSessionId.
var continuations = map[string]bool{
	flows.MsgStartProvisioning:      true,
	flows.MsgSetCertificateChain:    true,
	flows.MsgSetProofOfProvisioning: true,

	flows.MsgCertifyAuthKeysProveOwnershipResponse: true,
	flows.MsgCertifyAuthKeysSendCerts:              true,

	flows.MsgUpdateCredentialProveOwnershipResponse: true,
	flows.MsgUpdateCredentialGetDataToUpdate:        true,
	flows.MsgUpdateCredentialSetProofOfProvisioning: true,

	flows.MsgDeleteCredentialProveOwnershipResponse: true,
	flows.MsgDeleteCredentialDeleted:                true,
}

// deliver hands the message to the flow. Any flow error becomes an
// EndSessionMessage{Failed} and closes the session; a clean terminal
// response closes it too.
func (s *Server) deliver(c *gin.Context, id string, f session.Flow, msgType string, body []byte) {
	resp, done, err := f.Handle(c.Request.Context(), msgType, body)
	if err != nil {
		s.log.Warn("flow failed",
			zap.String("messageType", msgType),
			zap.String("eSessionId", id),
			zap.Error(err))
		s.endSession(c, id, flows.ReasonFailed, err.Error())
		return
	}
	if done {
		s.sessions.Close(id)
	}
	s.writeCBOR(c, resp)
}

func (s *Server) endSession(c *gin.Context, id, reason, detail string) {
	s.writeCBOR(c, &flows.EndSessionMessage{
		MessageType: flows.MsgEndSession,
		ESessionID:  id,
		Reason:      reason,
		Message:     detail,
	})
	s.sessions.Close(id)
}

func (s *Server) writeCBOR(c *gin.Context, v any) {
	data, err := cbor.Marshal(v)
	if err != nil {
		s.log.Error("response did not encode", zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/cbor", data)
}
