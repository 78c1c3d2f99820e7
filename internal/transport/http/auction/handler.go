package auction

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gavelhq/gavel/internal/dto"
	"github.com/gavelhq/gavel/internal/presentation/http/response"
	auctionsvc "github.com/gavelhq/gavel/internal/service/auction"
	"github.com/gavelhq/gavel/internal/service/bidding"
	"github.com/gavelhq/gavel/internal/service/finalize"
	"github.com/gavelhq/gavel/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/gavelhq/gavel/transport/http/auction")

// Handler exposes auction and bidding endpoints over HTTP.
type Handler struct {
	auctions  *auctionsvc.Service
	bidding   *bidding.Service
	finalizer *finalize.Service
}

// NewHandler constructs an auction Handler.
func NewHandler(auctions *auctionsvc.Service, bids *bidding.Service, finalizer *finalize.Service) *Handler {
	return &Handler{auctions: auctions, bidding: bids, finalizer: finalizer}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/auctions")
	g.POST("", h.create)
	g.GET("/:id", h.getByID)
	g.GET("/:id/bids", h.listBids)
	g.POST("/:id/bids", h.placeBid)
	g.PUT("/:id/auto-bid", h.setAutoBid)
	g.DELETE("/:id/auto-bid", h.withdrawAutoBid)
	g.POST("/:id/cancel", h.cancel)
	g.POST("/:id/suspend", h.suspend)
	g.POST("/:id/finalize", h.finalizeNow)
}

func auctionID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errorbank.BadRequest("invalid auction id", errorbank.WithCause(err))
	}
	return id, nil
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	var payload dto.CreateAuctionRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "auctions.create", trace.WithAttributes(
		attribute.Int64("seller.id", payload.SellerID),
	))
	defer span.End()

	a, err := h.auctions.Create(ctx, payload)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(dto.AuctionToResponse(a)).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := auctionID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "auctions.getByID", trace.WithAttributes(
		attribute.Int64("auction.id", id),
	))
	defer span.End()

	a, err := h.auctions.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.AuctionToResponse(a)).Build()
}

func (h *Handler) listBids(c echo.Context) error {
	b := response.New(c)

	id, err := auctionID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "auctions.listBids", trace.WithAttributes(
		attribute.Int64("auction.id", id),
	))
	defer span.End()

	bids, err := h.bidding.Bids(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := make([]dto.BidResponse, 0, len(bids))
	for i := range bids {
		out = append(out, dto.BidToResponse(&bids[i]))
	}
	return b.WithData(out).WithMeta("count", len(out)).Build()
}

func (h *Handler) placeBid(c echo.Context) error {
	b := response.New(c)

	id, err := auctionID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload dto.PlaceBidRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.BidderID <= 0 {
		return b.WithError(errorbank.BadRequest("bidder_id is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "auctions.placeBid", trace.WithAttributes(
		attribute.Int64("auction.id", id),
		attribute.Int64("bidder.id", payload.BidderID),
	))
	defer span.End()

	bid, err := h.bidding.PlaceBid(ctx, id, payload.BidderID, payload.Amount)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(dto.BidToResponse(bid)).Build()
}

func (h *Handler) setAutoBid(c echo.Context) error {
	b := response.New(c)

	id, err := auctionID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload dto.AutoBidRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.BidderID <= 0 {
		return b.WithError(errorbank.BadRequest("bidder_id is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "auctions.setAutoBid", trace.WithAttributes(
		attribute.Int64("auction.id", id),
		attribute.Int64("bidder.id", payload.BidderID),
	))
	defer span.End()

	agent, err := h.bidding.SetAutoBid(ctx, id, payload.BidderID, payload.MaxAmount)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.AutoBidToResponse(agent)).Build()
}

func (h *Handler) withdrawAutoBid(c echo.Context) error {
	b := response.New(c)

	id, err := auctionID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	bidderID, err := strconv.ParseInt(c.QueryParam("bidder_id"), 10, 64)
	if err != nil || bidderID <= 0 {
		return b.WithError(errorbank.BadRequest("bidder_id is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "auctions.withdrawAutoBid", trace.WithAttributes(
		attribute.Int64("auction.id", id),
		attribute.Int64("bidder.id", bidderID),
	))
	defer span.End()

	if err := h.bidding.WithdrawAutoBid(ctx, id, bidderID); err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusNoContent).Build()
}

type actorPayload struct {
	ActorID int64 `json:"actor_id"`
}

func (h *Handler) cancel(c echo.Context) error {
	return h.operatorAction(c, "auctions.cancel", h.auctions.Cancel)
}

func (h *Handler) suspend(c echo.Context) error {
	return h.operatorAction(c, "auctions.suspend", h.auctions.Suspend)
}

func (h *Handler) operatorAction(c echo.Context, span string, action func(ctx context.Context, auctionID, actorID int64) error) error {
	b := response.New(c)

	id, err := auctionID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload actorPayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.ActorID <= 0 {
		return b.WithError(errorbank.BadRequest("actor_id is required")).Build()
	}

	ctx, sp := httpTracer.Start(c.Request().Context(), span, trace.WithAttributes(
		attribute.Int64("auction.id", id),
		attribute.Int64("actor.id", payload.ActorID),
	))
	defer sp.End()

	if err := action(ctx, id, payload.ActorID); err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusNoContent).Build()
}

func (h *Handler) finalizeNow(c echo.Context) error {
	b := response.New(c)

	id, err := auctionID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "auctions.finalize", trace.WithAttributes(
		attribute.Int64("auction.id", id),
	))
	defer span.End()

	outcome, err := h.finalizer.Finalize(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(outcome).Build()
}
