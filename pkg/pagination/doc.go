// Package pagination implements offset pagination for find.
//
// Servers use Paginate to cut one page out of an ordered result set:
//
//	q := pagination.ApplyDefaults(query)
//	page := pagination.Paginate(records, q)
//
// Clients use a Collector to walk every page:
//
//	c := pagination.NewCollector()
//	for c.HasMore {
//	    page, err := find(ctx, c.NextQuery(base))
//	    if err != nil {
//	        return err
//	    }
//	    c.Update(page.Total, page.Skip, len(page.Data))
//	}
package pagination
