// Package paged provides a lazily resolved, page-backed indexable collection.
//
// A Model wraps a Source that knows the collection size, the page size and the
// contents of page 0. Every other page is fetched on demand, the first time an
// index inside it is requested, and then kept for the lifetime of the model.
//
// Example usage:
//
//	model, err := paged.New[Order](source, logging.NewLogger("orders"))
//	if err != nil {
//		return err
//	}
//
//	if !model.IsResolved(i) {
//		if err := model.Resolve(ctx, i); err != nil {
//			return err
//		}
//	}
//	order, _ := model.At(i)
//
// Resolution rules:
//   - Concurrent requests for indices on the same page share a single fetch
//   - A caller whose context is already done fails with ErrCancelled and
//     never triggers a fetch
//   - A caller that cancels while waiting only withdraws itself; the fetch
//     is cancelled once its last waiter has withdrawn
//   - A failed fetch is reported to every waiter as a *PageError and the page
//     returns to Unresolved, so a later Resolve retries it
//
// There is no eviction and no read-ahead. ResolveRange resolves an explicit
// range of indices with bounded concurrency.
package paged
