package orch

import (
	"context"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Negotiate issues the access token a client presents when opening its channel.
func (o *Orchestrator) Negotiate(uid domain.UserID) (string, error) {
	if err := domain.ValidateUserID(string(uid)); err != nil {
		return "", err
	}
	return o.Tokens.Issue(uid)
}

func (o *Orchestrator) Authenticate(token string) (domain.UserID, error) {
	return o.Tokens.Verify(token)
}

// Connect binds a live connection; membership is independent of connections.
func (o *Orchestrator) Connect(sid core.SessionID, uid domain.UserID, conn core.SignalConnection, cancel context.CancelFunc) core.MemberSession {
	sess := core.NewMemberSession(domain.NewMember(&domain.User{ID: uid}), conn)
	o.Registry.Bind(sid, sess, cancel)
	return sess
}

func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.Registry.Unbind(sid)
}

func (o *Orchestrator) KickBySID(sid core.SessionID) {
	sess, ok := o.Registry.GetSession(sid)
	o.Registry.Cancel(sid)
	o.Registry.Unbind(sid)
	if ok {
		sess.Signal().Close()
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("kicked")
}
