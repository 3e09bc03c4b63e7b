package memserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

// socketClient is one connected WebSocket.
type socketClient struct {
	ws  *websocket.Conn
	sid string

	writeMu sync.Mutex

	mu     sync.Mutex
	caller *principal
}

func (c *socketClient) send(f *protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *socketClient) close(code int, text string) {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.ws.Close()
}

func (c *socketClient) current() *principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caller
}

func (c *socketClient) setPrincipal(p *principal) {
	c.mu.Lock()
	c.caller = p
	c.mu.Unlock()
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if !s.accepting.Load() {
		http.Error(w, "not accepting connections", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", logging.ErrorField(err))
		return
	}

	c := &socketClient{ws: ws, sid: uuid.NewString()}
	logger := s.logger.WithFields(logging.String("sid", c.sid))

	s.socketsMu.Lock()
	s.sockets[c] = struct{}{}
	s.socketsMu.Unlock()
	s.live.Inc()

	defer func() {
		s.socketsMu.Lock()
		delete(s.sockets, c)
		s.socketsMu.Unlock()
		s.live.Dec()
		_ = ws.Close()
		logger.Debug("Socket closed")
	}()

	if err := c.send(&protocol.Frame{Type: protocol.FrameWelcome, SID: c.sid}); err != nil {
		return
	}
	logger.Debug("Socket connected")

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var f protocol.Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Type != protocol.FrameCall {
			logger.Debug("Ignoring frame", logging.String("frame", string(data)))
			continue
		}

		result, ev, err := s.handleCall(c, &f)
		if sendErr := c.send(protocol.ResultFrame(f.ID, result, err)); sendErr != nil {
			return
		}
		s.publish(ev)
	}
}

func (s *Server) handleCall(c *socketClient, f *protocol.Frame) (json.RawMessage, *event, error) {
	call := f.ToCall()

	if call.Service == protocol.AuthenticationPath {
		result, err := s.socketAuthentication(c, call)
		code := "ok"
		if err != nil {
			code = codeLabel(err)
		}
		s.observe("socket", call.Service, call.Method, code)
		return result, nil, err
	}

	caller := c.current()
	if caller != nil {
		// The session may have been logged out elsewhere
		if _, err := s.verify(caller.token); err != nil {
			c.setPrincipal(nil)
			caller = nil
		}
	}

	result, ev, err := s.execute(caller, call)
	code := "ok"
	if err != nil {
		code = codeLabel(err)
	}
	s.observe("socket", call.Service, call.Method, code)
	return result, ev, err
}

func (s *Server) socketAuthentication(c *socketClient, call *protocol.Call) (json.RawMessage, error) {
	switch call.Method {
	case protocol.OpCreate:
		raw, err := call.EncodeData()
		if err != nil {
			return nil, err
		}
		payload, err := protocol.DecodeAuthPayload(raw)
		if err != nil {
			return nil, err
		}
		resp, who, err := s.authenticate(payload)
		if err != nil {
			return nil, err
		}
		c.setPrincipal(who)
		return json.Marshal(resp)

	case protocol.OpRemove:
		who := c.current()
		if who == nil {
			return nil, svcerrors.AuthRejected("Not authenticated")
		}
		s.revoke(who)
		c.setPrincipal(nil)
		return json.Marshal(map[string]string{"accessToken": who.token})

	default:
		return nil, svcerrors.NewErrorf(svcerrors.CodeMethodNotAllowed,
			"Method %s is not allowed on authentication", call.Method)
	}
}

// publish sends ev to every authenticated socket.
func (s *Server) publish(ev *event) {
	if ev == nil {
		return
	}
	data, err := json.Marshal(ev.data)
	if err != nil {
		return
	}
	frame := &protocol.Frame{
		Type:  protocol.FrameEvent,
		Path:  ev.path,
		Event: ev.name,
		Data:  data,
	}

	s.socketsMu.Lock()
	targets := make([]*socketClient, 0, len(s.sockets))
	for c := range s.sockets {
		if c.current() != nil {
			targets = append(targets, c)
		}
	}
	s.socketsMu.Unlock()

	for _, c := range targets {
		if err := c.send(frame); err != nil {
			s.logger.Debug("Event delivery failed", logging.String("sid", c.sid), logging.ErrorField(err))
		}
	}
}
