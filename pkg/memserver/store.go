package memserver

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/pagination"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

// UsersService is the collection that backs local and provider logins.
const UsersService = "users"

// Record is one stored document. The id field is assigned on create.
type Record map[string]interface{}

// ID returns the record id.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

func (r Record) clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// collection stores records in insertion order.
type collection struct {
	name  string
	order []string
	items map[string]Record

	// public operations skip the authentication check
	public map[protocol.Operation]bool

	// prepare normalizes incoming data; existing is nil on create
	prepare func(c *collection, data, existing Record) (Record, error)

	// present strips fields that never leave the server
	present func(Record) Record
}

func newCollection(name string) *collection {
	return &collection{
		name:    name,
		items:   make(map[string]Record),
		public:  map[protocol.Operation]bool{},
		prepare: func(_ *collection, data, _ Record) (Record, error) { return data, nil },
		present: func(r Record) Record { return r.clone() },
	}
}

func newUsersCollection(cost int) *collection {
	c := newCollection(UsersService)
	c.public[protocol.OpCreate] = true
	c.prepare = func(c *collection, data, existing Record) (Record, error) {
		email, _ := data["email"].(string)
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			return nil, svcerrors.ValidationFailed("email is required", map[string]string{"email": "required"})
		}
		data["email"] = email
		for _, id := range c.order {
			other := c.items[id]
			if other["email"] == email && (existing == nil || id != existing.ID()) {
				return nil, svcerrors.ValidationFailed(fmt.Sprintf("email %s already exists", email),
					map[string]string{"email": "taken"})
			}
		}
		if pw, ok := data["password"].(string); ok && pw != "" && !isBcryptHash(pw) {
			hash, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
			if err != nil {
				return nil, svcerrors.Unknown(err)
			}
			data["password"] = string(hash)
		}
		return data, nil
	}
	c.present = func(r Record) Record {
		out := r.clone()
		delete(out, "password")
		return out
	}
	return c
}

func isBcryptHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

func (c *collection) list() []Record {
	out := make([]Record, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

func (c *collection) find(q protocol.Query) (protocol.PaginatedResult[Record], error) {
	if err := pagination.ValidateQuery(q); err != nil {
		return protocol.PaginatedResult[Record]{}, err
	}
	q = pagination.ApplyDefaults(q)

	var matched []Record
	for _, r := range c.list() {
		if matches(r, q.Filters) {
			matched = append(matched, c.present(r))
		}
	}
	return pagination.Paginate(matched, q), nil
}

func matches(r Record, filters map[string]interface{}) bool {
	for key, want := range filters {
		if strings.HasPrefix(key, "$") {
			continue
		}
		got, ok := r[key]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func (c *collection) get(id string) (Record, error) {
	r, ok := c.items[id]
	if !ok {
		return nil, svcerrors.NotFound(c.name, id)
	}
	return r, nil
}

func (c *collection) create(data Record) (Record, error) {
	data = data.clone()
	delete(data, "id")
	data, err := c.prepare(c, data, nil)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	data["id"] = id
	c.items[id] = data
	c.order = append(c.order, id)
	return data, nil
}

func (c *collection) patch(id string, data Record) (Record, error) {
	existing, err := c.get(id)
	if err != nil {
		return nil, err
	}
	merged := existing.clone()
	for k, v := range data {
		if k != "id" {
			merged[k] = v
		}
	}
	merged, err = c.prepare(c, merged, existing)
	if err != nil {
		return nil, err
	}
	c.items[id] = merged
	return merged, nil
}

func (c *collection) update(id string, data Record) (Record, error) {
	existing, err := c.get(id)
	if err != nil {
		return nil, err
	}
	replaced := data.clone()
	replaced["id"] = id
	replaced, err = c.prepare(c, replaced, existing)
	if err != nil {
		return nil, err
	}
	c.items[id] = replaced
	return replaced, nil
}

func (c *collection) remove(id string) (Record, error) {
	existing, err := c.get(id)
	if err != nil {
		return nil, err
	}
	delete(c.items, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return existing, nil
}

// event is a service event waiting to be published.
type event struct {
	path string
	name string
	data Record
}

// execute runs one service call for caller, which is nil when the call is
// unauthenticated. The returned event, if any, is published by the caller
// after the result has been sent.
func (s *Server) execute(caller *principal, call *protocol.Call) (json.RawMessage, *event, error) {
	if err := call.Validate(); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.services[strings.Trim(call.Service, "/")]
	if !ok {
		return nil, nil, svcerrors.NewErrorf(svcerrors.CodeNotFound, "Service '%s' is not registered", call.Service)
	}
	if !c.public[call.Method] && caller == nil {
		return nil, nil, svcerrors.AuthRejected("Not authenticated")
	}

	var data Record
	if call.Data != nil {
		raw, err := call.EncodeData()
		if err != nil {
			return nil, nil, err
		}
		if err := json.Unmarshal(raw, &data); err != nil || data == nil {
			return nil, nil, svcerrors.ValidationFailed(fmt.Sprintf("%s data must be a JSON object", call.Method), nil)
		}
	}

	var (
		result interface{}
		record Record
		err    error
	)
	switch call.Method {
	case protocol.OpFind:
		result, err = c.find(call.Query)
	case protocol.OpGet:
		record, err = c.get(call.ID)
	case protocol.OpCreate:
		record, err = c.create(data)
	case protocol.OpPatch:
		record, err = c.patch(call.ID, data)
	case protocol.OpUpdate:
		record, err = c.update(call.ID, data)
	case protocol.OpRemove:
		record, err = c.remove(call.ID)
	}
	if err != nil {
		return nil, nil, err
	}

	var ev *event
	if record != nil {
		record = c.present(record)
		result = record
		if name := protocol.EventFor(call.Method); name != "" {
			ev = &event{path: c.name, name: name, data: record}
		}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, nil, svcerrors.Unknown(err)
	}
	return raw, ev, nil
}

// Seed inserts records directly, bypassing authentication and events.
func (s *Server) Seed(service string, records ...Record) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.services[service]
	if !ok {
		return nil, svcerrors.NewErrorf(svcerrors.CodeNotFound, "Service '%s' is not registered", service)
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		created, err := c.create(r)
		if err != nil {
			return out, err
		}
		out = append(out, c.present(created))
	}
	return out, nil
}

// AddUser creates a user that can log in with the local strategy.
func (s *Server) AddUser(email, password string) (Record, error) {
	users, err := s.Seed(UsersService, Record{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	return users[0], nil
}

// Records returns the presented records of a service in insertion order.
func (s *Server) Records(service string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.services[service]
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(c.order))
	for _, r := range c.list() {
		out = append(out, c.present(r))
	}
	return out
}

// ServiceNames lists the registered services.
func (s *Server) ServiceNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
