package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"warehouse.ai/internal/protocol"
	"warehouse.ai/internal/sim/warehouse"
)

// Driver is the part of warehouse.Runner a session needs.
type Driver interface {
	Subscribe(ctx context.Context) (warehouse.Subscription, error)
	Unsubscribe(id int)
	Submit(a warehouse.Action)
	RequestReset(seed *int64)
}

type Server struct {
	driver  Driver
	runID   string
	schemas *protocol.Schemas
	log     *log.Logger

	// Silent clients (observe-only sessions, NoOp policies) are kept alive by
	// pings; every pong or inbound message extends the read deadline.
	readTimeout time.Duration
	pingPeriod  time.Duration

	upgrader websocket.Upgrader
}

func NewServer(d Driver, runID string, logger *log.Logger) (*Server, error) {
	schemas, err := protocol.LoadSchemas()
	if err != nil {
		return nil, err
	}
	return &Server{
		driver:  d,
		runID:   runID,
		schemas: schemas,
		log:     logger,

		readTimeout: 60 * time.Second,
		pingPeriod:  25 * time.Second,

		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}, nil
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		hello, sub, ok := s.handshake(ctx, conn)
		if !ok {
			return
		}
		defer s.driver.Unsubscribe(sub.ID)

		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		})

		// ERROR replies share the writer with OBS so only one goroutine writes.
		errOut := make(chan []byte, 8)

		go func() {
			defer cancel()
			ping := time.NewTicker(s.pingPeriod)
			defer ping.Stop()
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
						return
					}
					continue
				case b = <-sub.Out:
				case b = <-errOut:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			if code, detail := s.handle(hello, msg); code != "" {
				b, _ := json.Marshal(protocol.ErrorMsg{
					Type:            protocol.TypeError,
					ProtocolVersion: protocol.Version,
					Code:            code,
					Message:         detail,
				})
				select {
				case errOut <- b:
				default:
				}
			}
		}
	}
}

// handle routes one inbound message and returns an error code when it was
// refused.
func (s *Server) handle(hello protocol.HelloMsg, msg []byte) (code, detail string) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.ErrProtoBadRequest, "malformed json"
	}
	if base.ProtocolVersion != protocol.Version {
		return protocol.ErrProtoBadRequest, "bad protocol_version"
	}
	switch base.Type {
	case protocol.TypeAct:
		if hello.ObserveOnly {
			return protocol.ErrBadRequest, "observe-only session"
		}
		if err := protocol.ValidateJSON(s.schemas.Act, msg); err != nil {
			return protocol.ErrProtoBadRequest, err.Error()
		}
		var act protocol.ActMsg
		if err := json.Unmarshal(msg, &act); err != nil {
			return protocol.ErrProtoBadRequest, err.Error()
		}
		s.driver.Submit(warehouse.ActionFromMsg(act))
	case protocol.TypeReset:
		if hello.ObserveOnly {
			return protocol.ErrBadRequest, "observe-only session"
		}
		if err := protocol.ValidateJSON(s.schemas.Reset, msg); err != nil {
			return protocol.ErrProtoBadRequest, err.Error()
		}
		var rm protocol.ResetMsg
		if err := json.Unmarshal(msg, &rm); err != nil {
			return protocol.ErrProtoBadRequest, err.Error()
		}
		s.driver.RequestReset(rm.Seed)
	default:
		return protocol.ErrProtoBadRequest, "unexpected message type " + base.Type
	}
	return "", ""
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (protocol.HelloMsg, warehouse.Subscription, bool) {
	var hello protocol.HelloMsg

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return hello, warehouse.Subscription{}, false
	}
	if err := protocol.ValidateJSON(s.schemas.Hello, msg); err != nil {
		s.refuse(conn, "expected HELLO")
		return hello, warehouse.Subscription{}, false
	}
	if err := json.Unmarshal(msg, &hello); err != nil || hello.ProtocolVersion != protocol.Version {
		s.refuse(conn, "bad protocol_version")
		return hello, warehouse.Subscription{}, false
	}

	sub, err := s.driver.Subscribe(ctx)
	if err != nil {
		s.refuse(conn, "env unavailable")
		return hello, warehouse.Subscription{}, false
	}

	sessionID := uuid.NewString()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		RunID:           s.runID,
		Tick:            sub.Tick,
		Params:          sub.Params,
		Cells:           sub.Cells,
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.driver.Unsubscribe(sub.ID)
		return hello, warehouse.Subscription{}, false
	}
	if s.log != nil {
		s.log.Printf("session %s policy=%q observe_only=%v", sessionID, hello.PolicyName, hello.ObserveOnly)
	}
	return hello, sub, true
}

func (s *Server) refuse(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
