package bidding

import "go.uber.org/fx"

// Module provides the bidding service to Fx.
var Module = fx.Provide(NewService)
