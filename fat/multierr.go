package fat

import "github.com/hashicorp/go-multierror"

// multiErrorBuilder accumulates validation failures so a caller sees every
// violated invariant in one error instead of just the first (SPEC_FULL
// AMBIENT STACK: "aggregate with hashicorp/go-multierror"). The nil receiver
// is valid and behaves as an empty builder, so callers can build one up with
// `var merr *multiErrorBuilder` and repeated `merr = merr.add(err)`.
type multiErrorBuilder struct {
	inner *multierror.Error
}

func (m *multiErrorBuilder) add(err error) *multiErrorBuilder {
	if err == nil {
		return m
	}
	if m == nil {
		m = &multiErrorBuilder{}
	}
	m.inner = multierror.Append(m.inner, err)
	return m
}

// err returns nil if nothing was added, otherwise the aggregated error.
func (m *multiErrorBuilder) err() error {
	if m == nil || m.inner == nil || len(m.inner.Errors) == 0 {
		return nil
	}
	return m.inner.ErrorOrNil()
}
