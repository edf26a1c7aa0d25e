package domain

import "context"

// LookupQuery is built fresh for every message that contains a number.
type LookupQuery struct {
	RawNumber      string
	Region         string // default region hint, e.g. "IN"
	InstallationID string
}

// LookupResult holds either the service's markup or the failure cause.
type LookupResult struct {
	Markup string
	Err    error
}

func LookupSucceeded(markup string) LookupResult {
	return LookupResult{Markup: markup}
}

func LookupFailed(err error) LookupResult {
	return LookupResult{Err: err}
}

func (r LookupResult) Failed() bool {
	return r.Err != nil
}

// LookupClient queries the caller-identity service. Implementations never
// panic or return an error out of band: every outcome is a LookupResult.
type LookupClient interface {
	Lookup(ctx context.Context, q LookupQuery) LookupResult
}
