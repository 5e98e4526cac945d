package handler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/core/service"
)

const ServiceName = "inventory.v1.InventoryService"

type CreateReservationRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	StoreID  string `json:"storeId"`
}

type ReservationIDRequest struct {
	ID string `json:"id"`
}

type ReservationResponse struct {
	Reservation domain.Reservation `json:"reservation"`
}

type AdjustStockRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type AdjustStockResponse struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Version  int64  `json:"version"`
}

type GetStockViewRequest struct {
	SKU string `json:"sku"`
}

type StockViewResponse struct {
	View domain.InventoryView `json:"view"`
}

type ListStockViewsRequest struct {
	Since *time.Time `json:"since,omitempty"`
}

type ListStockViewsResponse struct {
	Views []domain.InventoryView `json:"views"`
}

type InventoryServer interface {
	CreateReservation(context.Context, *CreateReservationRequest) (*ReservationResponse, error)
	ConfirmReservation(context.Context, *ReservationIDRequest) (*ReservationResponse, error)
	CancelReservation(context.Context, *ReservationIDRequest) (*ReservationResponse, error)
	AdjustStock(context.Context, *AdjustStockRequest) (*AdjustStockResponse, error)
	GetStockView(context.Context, *GetStockViewRequest) (*StockViewResponse, error)
	ListStockViews(context.Context, *ListStockViewsRequest) (*ListStockViewsResponse, error)
}

type GRPCHandler struct {
	reservations *service.ReservationService
	ledger       *service.Ledger
	projector    *service.Projector
	logger       logrus.FieldLogger
}

func NewGRPCHandler(
	reservations *service.ReservationService,
	ledger *service.Ledger,
	projector *service.Projector,
	logger logrus.FieldLogger,
) *GRPCHandler {
	return &GRPCHandler{
		reservations: reservations,
		ledger:       ledger,
		projector:    projector,
		logger:       logger,
	}
}

func RegisterInventoryServer(s grpc.ServiceRegistrar, srv InventoryServer) {
	s.RegisterService(&inventoryServiceDesc, srv)
}

func (h *GRPCHandler) CreateReservation(ctx context.Context, req *CreateReservationRequest) (*ReservationResponse, error) {
	if msg := validateReservation(req.SKU, req.Quantity, req.StoreID); msg != "" {
		return nil, status.Error(codes.InvalidArgument, msg)
	}
	reservation, err := h.reservations.Create(ctx, req.SKU, req.Quantity, req.StoreID)
	if err != nil {
		return nil, h.grpcError(err)
	}
	return &ReservationResponse{Reservation: reservation}, nil
}

func (h *GRPCHandler) ConfirmReservation(ctx context.Context, req *ReservationIDRequest) (*ReservationResponse, error) {
	reservation, err := h.reservations.Confirm(ctx, req.ID)
	if err != nil {
		return nil, h.grpcError(err)
	}
	return &ReservationResponse{Reservation: reservation}, nil
}

func (h *GRPCHandler) CancelReservation(ctx context.Context, req *ReservationIDRequest) (*ReservationResponse, error) {
	reservation, err := h.reservations.Cancel(ctx, req.ID)
	if err != nil {
		return nil, h.grpcError(err)
	}
	return &ReservationResponse{Reservation: reservation}, nil
}

func (h *GRPCHandler) AdjustStock(ctx context.Context, req *AdjustStockRequest) (*AdjustStockResponse, error) {
	item, err := h.ledger.SetQuantity(ctx, req.SKU, req.Quantity)
	if err != nil {
		return nil, h.grpcError(err)
	}
	return &AdjustStockResponse{SKU: item.SKU, Quantity: item.Quantity, Version: item.Version}, nil
}

func (h *GRPCHandler) GetStockView(ctx context.Context, req *GetStockViewRequest) (*StockViewResponse, error) {
	view, err := h.projector.GetBySKU(ctx, req.SKU)
	if err != nil {
		return nil, h.grpcError(err)
	}
	if view == nil {
		return nil, status.Errorf(codes.NotFound, "sku %s not found", req.SKU)
	}
	return &StockViewResponse{View: *view}, nil
}

// ListStockViews returns every view, or only those changed after Since.
func (h *GRPCHandler) ListStockViews(ctx context.Context, req *ListStockViewsRequest) (*ListStockViewsResponse, error) {
	var (
		views []domain.InventoryView
		err   error
	)
	if req.Since != nil {
		views, err = h.projector.GetChangesSince(ctx, *req.Since)
	} else {
		views, err = h.projector.GetAll(ctx)
	}
	if err != nil {
		return nil, h.grpcError(err)
	}
	return &ListStockViewsResponse{Views: nonNil(views)}, nil
}

func (h *GRPCHandler) grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrItemNotFound), errors.Is(err, domain.ErrReservationNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrWriteConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		h.logger.WithError(err).Error("grpc call failed")
		return status.Error(codes.Internal, "internal error")
	}
}

func unary[Req, Resp any](method string, call func(InventoryServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	invoke := func(srv any, ctx context.Context, req *Req) (any, error) {
		resp, err := call(srv.(InventoryServer), ctx, req)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return invoke(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return invoke(srv, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var inventoryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateReservation", InventoryServer.CreateReservation),
		unary("ConfirmReservation", InventoryServer.ConfirmReservation),
		unary("CancelReservation", InventoryServer.CancelReservation),
		unary("AdjustStock", InventoryServer.AdjustStock),
		unary("GetStockView", InventoryServer.GetStockView),
		unary("ListStockViews", InventoryServer.ListStockViews),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inventory/v1/inventory.json",
}
