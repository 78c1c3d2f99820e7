package finalize

import "go.uber.org/fx"

// Module provides the finalize service to Fx.
var Module = fx.Provide(NewService)
