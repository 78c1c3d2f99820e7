package app

import (
	"go.uber.org/fx"

	"github.com/gavelhq/gavel/internal/cache"
	"github.com/gavelhq/gavel/internal/config"
	"github.com/gavelhq/gavel/internal/database"
	"github.com/gavelhq/gavel/internal/directory"
	"github.com/gavelhq/gavel/internal/logger"
	"github.com/gavelhq/gavel/internal/messaging"
	"github.com/gavelhq/gavel/internal/observability"
	repositoryauction "github.com/gavelhq/gavel/internal/repository/auction"
	repositoryorder "github.com/gavelhq/gavel/internal/repository/order"
	"github.com/gavelhq/gavel/internal/scheduler"
	grpcserver "github.com/gavelhq/gavel/internal/server/grpc"
	httpserver "github.com/gavelhq/gavel/internal/server/http"
	serviceauction "github.com/gavelhq/gavel/internal/service/auction"
	servicebidding "github.com/gavelhq/gavel/internal/service/bidding"
	servicefinalize "github.com/gavelhq/gavel/internal/service/finalize"
	transporthttp "github.com/gavelhq/gavel/internal/transport/http"
	"github.com/gavelhq/gavel/internal/worker"
	workernotify "github.com/gavelhq/gavel/internal/worker/notify"
	workerorder "github.com/gavelhq/gavel/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	directory.Module,
	repositoryauction.Module,
	repositoryorder.Module,
	serviceauction.Module,
	servicebidding.Module,
	servicefinalize.Module,
)

// API wires the HTTP and gRPC surfaces on top of the core modules.
var API = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background processing: the timer scheduler plus the
// kafka consumers for order intents and auction events.
var Worker = fx.Options(
	Core,
	scheduler.Module,
	worker.Module,
	workerorder.Module,
	workernotify.Module,
)

// Module is the default application wiring (API only).
var Module = API
