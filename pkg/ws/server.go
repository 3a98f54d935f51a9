// Package ws is the realtime transport: it upgrades connections,
// authenticates each one exactly once, and multiplexes the application
// events over it. All payloads are decoded into tagged variants at this
// boundary before anything downstream runs.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/avelar/jobchat/pkg/auth"
	"github.com/avelar/jobchat/pkg/authz"
	"github.com/avelar/jobchat/pkg/config"
	"github.com/avelar/jobchat/pkg/dispatch"
	"github.com/avelar/jobchat/pkg/event"
	"github.com/avelar/jobchat/pkg/logging"
	"github.com/avelar/jobchat/pkg/metrics"
	"github.com/avelar/jobchat/pkg/model"
	"github.com/avelar/jobchat/pkg/presence"
	"github.com/avelar/jobchat/pkg/registry"
)

// handlerTimeout bounds the I/O a single inbound event may do.
const handlerTimeout = 10 * time.Second

type Server struct {
	issuer     *auth.Issuer
	access     *authz.Authorizer
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	presence   *presence.Broadcaster
	cfg        config.WSConfig

	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewServer(issuer *auth.Issuer, access *authz.Authorizer, reg *registry.Registry,
	dispatcher *dispatch.Dispatcher, pres *presence.Broadcaster, cfg config.WSConfig) *Server {
	return &Server{
		issuer:     issuer,
		access:     access,
		registry:   reg,
		dispatcher: dispatcher,
		presence:   pres,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the marketplace web app; origin
			// enforcement happens at the edge proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logging.Component("ws"),
	}
}

// authFrame is the in-band credential for clients that could not put the
// token on the upgrade request.
type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// ServeHTTP upgrades the connection and runs the authentication handshake.
// The connection is admitted to channels only after a valid credential; a
// handshake that does not complete inside the configured window is rejected
// with a coded close frame.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	claims, reason := s.handshake(r, conn)
	if claims == nil {
		metrics.HandshakeFailures.WithLabelValues(reason).Inc()
		s.log.Info().Str("reason", reason).Str("remote", r.RemoteAddr).Msg("handshake rejected")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	s.admit(conn, claims)
}

// handshake resolves the bearer credential, from the upgrade request when
// present, otherwise from one in-band authenticate frame read within the
// handshake window. Returns nil claims and one of missing-token,
// invalid-token, expired-token, timeout on failure.
func (s *Server) handshake(r *http.Request, conn *websocket.Conn) (*auth.Claims, string) {
	token := auth.BearerToken(r)
	if token == "" {
		conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeWindow))
		conn.SetReadLimit(maxFrameSize)
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return nil, "timeout"
		}
		var af authFrame
		if err := json.Unmarshal(frame, &af); err != nil || af.Type != "authenticate" || af.Token == "" {
			return nil, "missing-token"
		}
		token = af.Token
	}

	claims, err := s.issuer.Verify(token)
	switch {
	case err == nil:
		return claims, ""
	case errors.Is(err, auth.ErrMissingToken):
		return nil, "missing-token"
	case errors.Is(err, auth.ErrTokenExpired):
		return nil, "expired-token"
	default:
		return nil, "invalid-token"
	}
}

// admit wires an authenticated connection into the registry and starts its
// pumps. Every connection implicitly joins its personal channel and, for a
// recognized role, the role broadcast channel.
func (s *Server) admit(conn *websocket.Conn, claims *auth.Claims) {
	client := &Client{
		id:      uuid.NewString(),
		userID:  claims.UserID,
		role:    claims.Role,
		conn:    conn,
		server:  s,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.EventRate), s.cfg.EventBurst),
		send:    make(chan []byte, s.cfg.SendBuffer),
		quit:    make(chan struct{}),
	}

	s.registry.Subscribe(client, registry.UserChannel(client.userID))
	if client.role.Valid() {
		s.registry.Subscribe(client, registry.RoleChannel(client.role))
	}
	metrics.OpenConnections.Inc()
	s.log.Info().Str("user_id", client.userID).Str("role", string(client.role)).
		Str("conn_id", client.id).Msg("connection admitted")

	if ack, err := event.Encode(event.AuthSuccess{
		Type:     event.TypeAuthSuccess,
		UserID:   client.userID,
		UserRole: client.role,
	}); err == nil {
		client.TrySend(ack)
	}

	go client.writePump()
	go client.readPump()
}

func (s *Server) disconnect(c *Client) {
	s.registry.Disconnect(c)
	metrics.OpenConnections.Dec()

	// A professional dropping offline flips their availability. Last write
	// wins across devices; a remaining connection re-asserts online with its
	// next set-online-status.
	if c.role == model.RoleProfessional {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		if err := s.presence.SetOnlineStatus(ctx, c.userID, c.role, false); err != nil {
			s.log.Warn().Err(err).Str("user_id", c.userID).Msg("offline mark failed on disconnect")
		}
	}

	s.log.Info().Str("user_id", c.userID).Str("conn_id", c.id).Msg("connection closed")
}

// handleFrame decodes and runs one inbound event. Called serially from the
// connection's readPump.
func (s *Server) handleFrame(c *Client, frame []byte) {
	ev, err := event.DecodeClient(frame)
	if err != nil {
		s.sendError(c, "TRANSPORT_ERROR", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	switch ev := ev.(type) {
	case *event.JoinJob:
		s.handleJoin(ctx, c, ev.JobID)

	case *event.LeaveJob:
		s.registry.Unsubscribe(c, registry.RoomChannel(ev.JobID))

	case *event.SendMessage:
		s.handleSend(ctx, c, ev)

	case *event.Typing:
		if err := s.presence.SetTyping(ctx, c.userID, ev.JobID, ev.IsTyping); err != nil {
			s.sendError(c, dispatch.Code(err), "typing signal rejected")
		}

	case *event.SetOnlineStatus:
		if err := s.presence.SetOnlineStatus(ctx, c.userID, c.role, ev.IsOnline); err != nil {
			s.sendError(c, "FORBIDDEN", "online status is professional-only")
		}
	}
}

// handleJoin subscribes the connection to a job room after re-checking the
// access authorizer. Joins are authorized just like sends: without this a
// connection could subscribe to any room by id and read its broadcasts.
func (s *Server) handleJoin(ctx context.Context, c *Client, jobID string) {
	if err := s.access.CanAccess(ctx, c.userID, jobID); err != nil {
		s.sendError(c, dispatch.Code(err), "cannot join job room")
		return
	}
	s.registry.Subscribe(c, registry.RoomChannel(jobID))

	if ack, err := event.Encode(event.JobJoined{
		Type:   event.TypeJobJoined,
		JobID:  jobID,
		UserID: c.userID,
	}); err == nil {
		c.TrySend(ack)
	}
}

func (s *Server) handleSend(ctx context.Context, c *Client, ev *event.SendMessage) {
	m, err := s.dispatcher.Send(ctx, c.userID, ev.JobID, ev.Content, ev.MessageType)
	if err != nil {
		s.sendError(c, dispatch.Code(err), "message rejected")
		return
	}

	// Synchronous ack to the sender; the recipient's new-message and the
	// room's job-room-update were already published by the dispatcher.
	if ack, err := event.NewMessageEvent(event.TypeMessageSent, *m); err == nil {
		c.TrySend(ack)
	}
}

func (s *Server) sendError(c *Client, code, message string) {
	if payload, err := event.NewError(code, message); err == nil {
		c.TrySend(payload)
	}
}
