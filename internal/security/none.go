package security

import (
	"context"

	"github.com/openrv/govnc/internal/transport"
)

// NoneHandler implements the None security type: no bytes exchanged.
type NoneHandler struct{}

func (NoneHandler) Run(ctx context.Context, conn *transport.Transport, password string) error {
	return nil
}
