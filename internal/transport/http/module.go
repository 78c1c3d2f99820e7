package http

import (
	"go.uber.org/fx"

	auctiontransport "github.com/gavelhq/gavel/internal/transport/http/auction"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	auctiontransport.Module,
)
