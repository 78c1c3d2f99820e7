package auction

import "go.uber.org/fx"

// Module provides the auction repository to Fx, bound to the Store contract.
var Module = fx.Provide(
	fx.Annotate(NewRepository, fx.As(new(Store))),
)
