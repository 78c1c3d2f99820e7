package main

import (
	"go.uber.org/fx"

	"github.com/gavelhq/gavel/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
