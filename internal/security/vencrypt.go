package security

import (
	"context"
	"fmt"

	"github.com/openrv/govnc/internal/transport"
)

// VeNCryptHandler is a stub: spec.md §4.3 requires the subtype exist and
// reject cleanly rather than silently falling through to an unauthenticated
// path. A full VeNCrypt implementation negotiates a version and sub-type
// byte before opening the TLS tunnel; wiring that is future work, not a
// silent bypass.
type VeNCryptHandler struct{}

func (VeNCryptHandler) Run(ctx context.Context, conn *transport.Transport, password string) error {
	return fmt.Errorf("VeNCrypt security type is not supported by this client")
}
