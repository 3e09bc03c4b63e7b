package pagination

import (
	"fmt"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

const (
	// DefaultLimit is the page size used when a query does not set $limit
	DefaultLimit = 10

	// MaxLimit caps $limit; larger requests are clamped, not rejected
	MaxLimit = 50
)

// ValidateQuery rejects negative $limit or $skip.
func ValidateQuery(q protocol.Query) error {
	if q.Limit < 0 {
		return svcerrors.ValidationFailed(fmt.Sprintf("$limit must not be negative, got %d", q.Limit), nil)
	}
	if q.Skip < 0 {
		return svcerrors.ValidationFailed(fmt.Sprintf("$skip must not be negative, got %d", q.Skip), nil)
	}
	return nil
}

// ApplyDefaults returns a copy of q with the limit defaulted and clamped.
func ApplyDefaults(q protocol.Query) protocol.Query {
	result := protocol.Query{
		Limit:   q.Limit,
		Skip:    q.Skip,
		Filters: q.Filters,
	}

	if result.Limit <= 0 {
		result.Limit = DefaultLimit
	}
	if result.Limit > MaxLimit {
		result.Limit = MaxLimit
	}
	if result.Skip < 0 {
		result.Skip = 0
	}

	return result
}

// Window returns the slice bounds of the page q selects from total items.
// end-start == min(limit, max(0, total-skip)).
func Window(total int, q protocol.Query) (start, end int) {
	start = q.Skip
	if start > total {
		start = total
	}
	end = start + q.Limit
	if end > total {
		end = total
	}
	return start, end
}

// Paginate cuts the page selected by q out of items. q should already have
// defaults applied.
func Paginate[T any](items []T, q protocol.Query) protocol.PaginatedResult[T] {
	start, end := Window(len(items), q)
	data := make([]T, end-start)
	copy(data, items[start:end])
	return protocol.PaginatedResult[T]{
		Total: len(items),
		Limit: q.Limit,
		Skip:  q.Skip,
		Data:  data,
	}
}

// Collector is a utility for collecting all pages of a find
type Collector struct {
	// NextSkip is the offset of the next page
	NextSkip int
	// HasMore indicates if there are more pages to fetch
	HasMore bool
	// Total is the server-side count reported by the last page
	Total int
	// TotalItems is the number of items collected so far
	TotalItems int
}

// NewCollector creates a new pagination collector
func NewCollector() *Collector {
	return &Collector{HasMore: true}
}

// Update records one page. An empty page stops collection even if the
// reported total says otherwise, so a shrinking result set cannot loop.
func (c *Collector) Update(total, skip, count int) {
	c.Total = total
	c.TotalItems += count
	c.NextSkip = skip + count
	c.HasMore = count > 0 && c.NextSkip < total
}

// NextQuery returns base with $skip advanced to the next page
func (c *Collector) NextQuery(base protocol.Query) protocol.Query {
	q := base
	q.Skip = c.NextSkip
	return q
}
