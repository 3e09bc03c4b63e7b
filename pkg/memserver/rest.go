package memserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

const maxBodySize = 1 << 20

func (s *Server) handleREST(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		s.writeError(w, r, svcerrors.NewErrorf(svcerrors.CodeNotFound, "Page not found: %s", r.URL.Path))
		return
	}
	service := parts[0]
	id := ""
	if len(parts) == 2 {
		id = parts[1]
	}

	if service == protocol.AuthenticationPath {
		s.handleAuthentication(w, r)
		return
	}

	caller, err := s.callerFromHeader(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	call, err := restCall(r, service, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, ev, err := s.execute(caller, call)
	if err != nil {
		s.observe("rest", service, call.Method, codeLabel(err))
		s.writeError(w, r, err)
		return
	}
	s.observe("rest", service, call.Method, "ok")

	status := http.StatusOK
	if call.Method == protocol.OpCreate {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
	s.publish(ev)
}

// restCall maps the HTTP request onto a service call.
func restCall(r *http.Request, service, id string) (*protocol.Call, error) {
	call := &protocol.Call{Service: service, ID: id}

	switch {
	case r.Method == http.MethodGet && id == "":
		call.Method = protocol.OpFind
		q, err := protocol.ParseQuery(r.URL.Query())
		if err != nil {
			return nil, err
		}
		call.Query = q
	case r.Method == http.MethodGet:
		call.Method = protocol.OpGet
	case r.Method == http.MethodPost && id == "":
		call.Method = protocol.OpCreate
	case r.Method == http.MethodPatch && id != "":
		call.Method = protocol.OpPatch
	case r.Method == http.MethodPut && id != "":
		call.Method = protocol.OpUpdate
	case r.Method == http.MethodDelete && id != "":
		call.Method = protocol.OpRemove
	default:
		return nil, svcerrors.NewErrorf(svcerrors.CodeMethodNotAllowed,
			"Method %s is not allowed on /%s", r.Method, strings.Trim(service+"/"+id, "/"))
	}

	switch call.Method {
	case protocol.OpCreate, protocol.OpPatch, protocol.OpUpdate:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			return nil, svcerrors.ValidationFailed("cannot read request body", nil)
		}
		if len(body) > 0 {
			call.Data = json.RawMessage(body)
		}
	}
	return call, nil
}

func (s *Server) handleAuthentication(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			s.writeError(w, r, svcerrors.ValidationFailed("cannot read request body", nil))
			return
		}
		payload, err := protocol.DecodeAuthPayload(body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp, _, err := s.authenticate(payload)
		if err != nil {
			s.observe("rest", protocol.AuthenticationPath, protocol.OpCreate, codeLabel(err))
			s.writeError(w, r, err)
			return
		}
		s.observe("rest", protocol.AuthenticationPath, protocol.OpCreate, "ok")
		writeJSON(w, http.StatusCreated, resp)

	case http.MethodDelete:
		caller, err := s.callerFromHeader(r)
		if err == nil && caller == nil {
			err = svcerrors.AuthRejected("Not authenticated")
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.revoke(caller)
		s.observe("rest", protocol.AuthenticationPath, protocol.OpRemove, "ok")
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": caller.token})

	default:
		s.writeError(w, r, svcerrors.NewErrorf(svcerrors.CodeMethodNotAllowed,
			"Method %s is not allowed on /authentication", r.Method))
	}
}

// callerFromHeader returns nil without a bearer token and an error for an
// invalid one.
func (s *Server) callerFromHeader(r *http.Request) (*principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	return s.verify(token)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	wire := svcerrors.ToWire(err)
	status := wire.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	s.logger.WithContext(r.Context()).Debug("Request rejected",
		logging.String("path", r.URL.Path),
		logging.Int("status", status),
		logging.String("error", wire.Message),
	)
	writeJSON(w, status, wire)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	switch body := v.(type) {
	case json.RawMessage:
		_, _ = w.Write(body)
	default:
		_ = json.NewEncoder(w).Encode(v)
	}
}

func codeLabel(err error) string {
	if svcErr, ok := svcerrors.AsServiceError(err); ok {
		return strconv.Itoa(svcErr.Code())
	}
	return strconv.Itoa(svcerrors.CodeGeneralError)
}
