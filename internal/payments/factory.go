package payments

import (
	"fmt"
	"sort"
	"strings"
)

const (
	MethodHosted   = "hosted"
	MethodAsync    = "asyncpay"
	MethodRedirect = "redirect"
	MethodManual   = "manual"
)

// Registry resolves gateways by payment method name.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: map[string]Gateway{}}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

func (r *Registry) Get(method string) (Gateway, error) {
	g, ok := r.gateways[strings.TrimSpace(strings.ToLower(method))]
	if !ok {
		return nil, fmt.Errorf("unknown payment method: %s", method)
	}
	return g, nil
}

func (r *Registry) Methods() []string {
	out := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
