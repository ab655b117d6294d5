// Package pagination turns a page-at-a-time fetch function into a single lazy
// sequence of items.
//
// The accounting API returns list endpoints in pages and reports whether a
// further page exists. A Stream requests page 0 on the first pull, hands out
// its items in order, and only asks for the next page once the consumer has
// taken the last item of the current one. Every page fetch is wrapped in the
// retry executor, so transient failures are absorbed and a definitive failure
// ends the stream with a single error.
//
// Example usage:
//
//	stream := pagination.NewStream(fetcher, pagination.DefaultConfig("customers"))
//	for stream.Next(ctx) {
//		customer := stream.Item()
//		// ...
//	}
//	if err := stream.Err(); err != nil {
//		return err
//	}
//
// Or with a range-over-func loop:
//
//	for customer, err := range stream.All(ctx) {
//		if err != nil {
//			return err
//		}
//		// ...
//	}
//
// A stream is single use: once it reports the end of the sequence or an
// error it never fetches again. Streams hold no background goroutines, so
// abandoning one early needs no cleanup.
package pagination
