package account

import (
	"coinledger/services/ledger"

	"go.uber.org/fx"
)

var Module = fx.Module("account",
	fx.Provide(
		fx.Annotate(NewDirectory, fx.As(new(ledger.AccountDirectory))),
		NewService,
		NewHandler,
	),
	fx.Invoke(registerRoutes),
)
