// Package health evaluates the readiness checks shared by the HTTP and gRPC
// surfaces.
package health

import (
	"context"
	"sort"
	"time"
)

const DefaultTimeout = 2 * time.Second

type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Report maps every check name to "ok" or its error text.
type Report map[string]string

func (r Report) Healthy() bool {
	for _, v := range r {
		if v != "ok" {
			return false
		}
	}
	return true
}

// Evaluate runs the checks one after another, each bounded by timeout.
func Evaluate(ctx context.Context, timeout time.Duration, checks []Check) Report {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	out := make(Report, len(checks))
	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		err := c.Fn(cctx)
		cancel()
		if err != nil {
			out[c.Name] = err.Error()
			continue
		}
		out[c.Name] = "ok"
	}
	return out
}

// Names returns the check names in a stable order.
func (r Report) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
