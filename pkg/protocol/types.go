package protocol

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
)

// Operation is a service method name.
type Operation string

const (
	OpFind   Operation = "find"
	OpGet    Operation = "get"
	OpCreate Operation = "create"
	OpPatch  Operation = "patch"
	OpUpdate Operation = "update"
	OpRemove Operation = "remove"
)

// Operations lists every service operation in a stable order.
var Operations = []Operation{OpFind, OpGet, OpCreate, OpPatch, OpUpdate, OpRemove}

// Valid reports whether op is one of the six service operations.
func (op Operation) Valid() bool {
	switch op {
	case OpFind, OpGet, OpCreate, OpPatch, OpUpdate, OpRemove:
		return true
	}
	return false
}

// NeedsID reports whether the operation addresses a single record.
func (op Operation) NeedsID() bool {
	switch op {
	case OpGet, OpPatch, OpUpdate, OpRemove:
		return true
	}
	return false
}

// Idempotent reports whether repeating the operation cannot change server
// state.
func (op Operation) Idempotent() bool {
	return op == OpFind || op == OpGet
}

// HTTPMethod maps the operation to its REST verb.
func (op Operation) HTTPMethod() string {
	switch op {
	case OpFind, OpGet:
		return http.MethodGet
	case OpCreate:
		return http.MethodPost
	case OpPatch:
		return http.MethodPatch
	case OpUpdate:
		return http.MethodPut
	case OpRemove:
		return http.MethodDelete
	}
	return ""
}

// Reserved query keys.
const (
	QueryLimit = "$limit"
	QuerySkip  = "$skip"
)

// Query carries pagination and equality filters for find. A zero Limit lets
// the server pick its default page size.
type Query struct {
	Limit   int
	Skip    int
	Filters map[string]interface{}
}

// IsZero reports whether the query carries nothing.
func (q Query) IsZero() bool {
	return q.Limit == 0 && q.Skip == 0 && len(q.Filters) == 0
}

// MarshalJSON flattens the query into {"$limit":..,"$skip":..,filters...}.
func (q Query) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(q.Filters)+2)
	for k, v := range q.Filters {
		m[k] = v
	}
	if q.Limit > 0 {
		m[QueryLimit] = q.Limit
	}
	if q.Skip > 0 {
		m[QuerySkip] = q.Skip
	}
	return json.Marshal(m)
}

// UnmarshalJSON reverses MarshalJSON. $limit and $skip may arrive as
// numbers or numeric strings.
func (q *Query) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*q = Query{}
	for k, v := range m {
		switch k {
		case QueryLimit, QuerySkip:
			n, err := toInt(v)
			if err != nil {
				return fmt.Errorf("query %s: %w", k, err)
			}
			if k == QueryLimit {
				q.Limit = n
			} else {
				q.Skip = n
			}
		default:
			if q.Filters == nil {
				q.Filters = make(map[string]interface{})
			}
			q.Filters[k] = v
		}
	}
	return nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

// Values encodes the query as URL parameters. Filter values are rendered
// with fmt's %v.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set(QueryLimit, strconv.Itoa(q.Limit))
	}
	if q.Skip > 0 {
		v.Set(QuerySkip, strconv.Itoa(q.Skip))
	}
	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.Set(k, fmt.Sprintf("%v", q.Filters[k]))
	}
	return v
}

// ParseQuery decodes URL parameters produced by Values.
func ParseQuery(values url.Values) (Query, error) {
	var q Query
	for k, vs := range values {
		if len(vs) == 0 {
			continue
		}
		switch k {
		case QueryLimit, QuerySkip:
			n, err := strconv.Atoi(strings.TrimSpace(vs[0]))
			if err != nil {
				return Query{}, svcerrors.ValidationFailed(fmt.Sprintf("invalid %s %q", k, vs[0]), nil)
			}
			if k == QueryLimit {
				q.Limit = n
			} else {
				q.Skip = n
			}
		default:
			if q.Filters == nil {
				q.Filters = make(map[string]interface{})
			}
			q.Filters[k] = vs[0]
		}
	}
	return q, nil
}

// PaginatedResult is one page of a find. len(Data) never exceeds Limit and
// Skip+len(Data) never exceeds Total.
type PaginatedResult[T any] struct {
	Total int `json:"total"`
	Limit int `json:"limit"`
	Skip  int `json:"skip"`
	Data  []T `json:"data"`
}

// HasMore reports whether records remain after this page.
func (p *PaginatedResult[T]) HasMore() bool {
	return p != nil && len(p.Data) > 0 && p.Skip+len(p.Data) < p.Total
}

// Call is one service invocation, independent of the wire it travels on.
type Call struct {
	Service string
	Method  Operation
	ID      string
	Data    interface{}
	Query   Query
}

// Validate checks the call shape before it is sent.
func (c *Call) Validate() error {
	if c == nil {
		return svcerrors.ValidationFailed("call is nil", nil)
	}
	if strings.TrimSpace(c.Service) == "" {
		return svcerrors.ValidationFailed("service name is required", nil)
	}
	if !c.Method.Valid() {
		return svcerrors.ValidationFailed(fmt.Sprintf("unknown method %q", c.Method), nil)
	}
	if c.Method.NeedsID() && c.ID == "" {
		return svcerrors.ValidationFailed(fmt.Sprintf("%s on %s requires an id", c.Method, c.Service), nil)
	}
	switch c.Method {
	case OpCreate, OpPatch, OpUpdate:
		if c.Data == nil {
			return svcerrors.ValidationFailed(fmt.Sprintf("%s on %s requires data", c.Method, c.Service), nil)
		}
	}
	return nil
}

// Path renders the REST path for the call, e.g. "/users/42".
func (c *Call) Path() string {
	p := "/" + strings.Trim(c.Service, "/")
	if c.ID != "" {
		p += "/" + url.PathEscape(c.ID)
	}
	return p
}

// EncodeData marshals the call's data; raw JSON passes through untouched.
func (c *Call) EncodeData() (json.RawMessage, error) {
	switch d := c.Data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	case []byte:
		return json.RawMessage(d), nil
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, svcerrors.ValidationFailed(fmt.Sprintf("cannot encode %s data: %v", c.Method, err), nil)
		}
		return b, nil
	}
}
