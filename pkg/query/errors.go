package query

import "errors"

var (
	// ErrMaxQueryDepthExceeded is returned when a guest's query_chain call
	// nests deeper than the dispatcher's configured maximum (§4.9).
	ErrMaxQueryDepthExceeded = errors.New("query: max query depth exceeded")
	// ErrUnknownQuery is returned when a Request arrives with none of its
	// fields populated.
	ErrUnknownQuery = errors.New("query: request names no known query kind")
)
