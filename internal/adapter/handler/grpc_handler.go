package handler

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/escrow-market/internal/core/domain"
	"github.com/rl1809/escrow-market/internal/core/service"
)

type GRPCHandler struct {
	market *service.MarketplaceService
}

func NewGRPCHandler(market *service.MarketplaceService) *GRPCHandler {
	return &GRPCHandler{market: market}
}

func (h *GRPCHandler) ListItem(ctx context.Context, req *ListItemRequest) (*ItemReply, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	item, err := h.market.List(ctx, caller, req.Name, req.Price)
	if err != nil {
		return nil, grpcError(err)
	}
	return toItemReply(service.ItemView{Item: item}), nil
}

func (h *GRPCHandler) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseReply, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	sale, err := h.market.Purchase(ctx, req.RequestID, caller, domain.ItemID(req.ItemID), req.Value)
	if err != nil {
		return nil, grpcError(err)
	}
	return &PurchaseReply{
		ItemID: uint64(sale.ItemID),
		Buyer:  sale.Buyer.String(),
		Seller: sale.Seller.String(),
		Price:  sale.Price,
	}, nil
}

func (h *GRPCHandler) Withdraw(ctx context.Context, req *WithdrawRequest) (*AmountReply, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	amount, err := h.market.Withdraw(ctx, caller)
	if err != nil {
		return nil, grpcError(err)
	}
	return &AmountReply{Address: caller.String(), Amount: amount}, nil
}

func (h *GRPCHandler) GetItem(ctx context.Context, req *GetItemRequest) (*ItemReply, error) {
	view, err := h.market.GetItem(ctx, domain.ItemID(req.ItemID))
	if err != nil {
		return nil, grpcError(err)
	}
	return toItemReply(view), nil
}

func (h *GRPCHandler) ListItems(ctx context.Context, req *ListItemsRequest) (*ListItemsReply, error) {
	ids, err := h.market.ListIDs(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	total, err := h.market.TotalItems(ctx)
	if err != nil {
		return nil, grpcError(err)
	}

	reply := &ListItemsReply{Total: total, IDs: make([]uint64, 0, len(ids))}
	for _, id := range ids {
		reply.IDs = append(reply.IDs, uint64(id))
	}
	return reply, nil
}

func (h *GRPCHandler) ProceedsOf(ctx context.Context, req *ProceedsOfRequest) (*AmountReply, error) {
	addr, err := domain.NewAddress(req.Address)
	if err != nil {
		return nil, grpcError(err)
	}

	amount, err := h.market.ProceedsOf(ctx, addr)
	if err != nil {
		return nil, grpcError(err)
	}
	return &AmountReply{Address: addr.String(), Amount: amount}, nil
}

func callerFromContext(ctx context.Context) (domain.Address, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(CallerMetadataKey)
	if len(values) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing "+CallerMetadataKey+" metadata")
	}
	addr, err := domain.NewAddress(values[0])
	if err != nil {
		return "", status.Error(codes.Unauthenticated, "empty "+CallerMetadataKey+" metadata")
	}
	return addr, nil
}

func toItemReply(view service.ItemView) *ItemReply {
	return &ItemReply{
		ID:       uint64(view.ID),
		Name:     view.Name,
		Price:    view.Price,
		Seller:   view.Seller.String(),
		Sold:     view.Sold,
		Owner:    view.Owner.String(),
		ListedAt: view.ListedAt,
		SoldAt:   view.SoldAt,
	}
}
