package transfer

import "context"

// Page is one page of a continuation-token listing.
type Page[T any] struct {
	Items []T
	// Next is the opaque cursor for the following page; empty means the
	// listing is exhausted.
	Next string
}

// FetchAll drains a paginated listing into a single slice. The fetch
// function is called with an empty cursor first and then with each
// returned continuation token, strictly sequentially (each page is
// awaited before the next is requested). A failure on any page aborts
// the whole listing; no partial result is returned. Cursors live only
// for the duration of the call and are never persisted.
func FetchAll[T any](ctx context.Context, fetch func(ctx context.Context, cursor string) (Page[T], error)) ([]T, error) {
	var out []T
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := fetch(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if page.Next == "" {
			return out, nil
		}
		cursor = page.Next
	}
}
