package handler

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
)

const (
	// JSONContentSubtype selects the JSON codec on a gRPC call.
	JSONContentSubtype = "json"

	// CallerMetadataKey carries the caller address in gRPC metadata.
	CallerMetadataKey = "x-caller-address"

	marketplaceServiceName = "escrowmarket.v1.Marketplace"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONContentSubtype }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type ListItemRequest struct {
	Name  string `json:"name"`
	Price uint64 `json:"price"`
}

type PurchaseRequest struct {
	RequestID string `json:"request_id"`
	ItemID    uint64 `json:"item_id"`
	Value     uint64 `json:"value"`
}

type WithdrawRequest struct{}

type GetItemRequest struct {
	ItemID uint64 `json:"item_id"`
}

type ListItemsRequest struct{}

type ProceedsOfRequest struct {
	Address string `json:"address"`
}

type ItemReply struct {
	ID       uint64     `json:"id"`
	Name     string     `json:"name"`
	Price    uint64     `json:"price"`
	Seller   string     `json:"seller"`
	Sold     bool       `json:"sold"`
	Owner    string     `json:"owner,omitempty"`
	ListedAt time.Time  `json:"listed_at"`
	SoldAt   *time.Time `json:"sold_at,omitempty"`
}

type PurchaseReply struct {
	ItemID uint64 `json:"item_id"`
	Buyer  string `json:"buyer"`
	Seller string `json:"seller"`
	Price  uint64 `json:"price"`
}

type ListItemsReply struct {
	Total int      `json:"total"`
	IDs   []uint64 `json:"ids"`
}

type AmountReply struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// MarketplaceServer is the gRPC surface of the marketplace.
type MarketplaceServer interface {
	ListItem(context.Context, *ListItemRequest) (*ItemReply, error)
	Purchase(context.Context, *PurchaseRequest) (*PurchaseReply, error)
	Withdraw(context.Context, *WithdrawRequest) (*AmountReply, error)
	GetItem(context.Context, *GetItemRequest) (*ItemReply, error)
	ListItems(context.Context, *ListItemsRequest) (*ListItemsReply, error)
	ProceedsOf(context.Context, *ProceedsOfRequest) (*AmountReply, error)
}

func RegisterMarketplaceServer(s grpc.ServiceRegistrar, srv MarketplaceServer) {
	s.RegisterService(&marketplaceServiceDesc, srv)
}

var marketplaceServiceDesc = grpc.ServiceDesc{
	ServiceName: marketplaceServiceName,
	HandlerType: (*MarketplaceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("ListItem", MarketplaceServer.ListItem),
		unaryMethod("Purchase", MarketplaceServer.Purchase),
		unaryMethod("Withdraw", MarketplaceServer.Withdraw),
		unaryMethod("GetItem", MarketplaceServer.GetItem),
		unaryMethod("ListItems", MarketplaceServer.ListItems),
		unaryMethod("ProceedsOf", MarketplaceServer.ProceedsOf),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "escrowmarket/v1/marketplace",
}

func unaryMethod[Req, Resp any](name string, call func(MarketplaceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MarketplaceServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + marketplaceServiceName + "/" + name,
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// MarketplaceClient calls a remote MarketplaceServer.
type MarketplaceClient struct {
	cc grpc.ClientConnInterface
}

func NewMarketplaceClient(cc grpc.ClientConnInterface) *MarketplaceClient {
	return &MarketplaceClient{cc: cc}
}

// WithCaller attaches the caller address to outgoing calls made with ctx.
func WithCaller(ctx context.Context, addr string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, CallerMetadataKey, addr)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any) (*Resp, error) {
	out := new(Resp)
	err := cc.Invoke(ctx, "/"+marketplaceServiceName+"/"+method, in, out, grpc.CallContentSubtype(JSONContentSubtype))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MarketplaceClient) ListItem(ctx context.Context, in *ListItemRequest) (*ItemReply, error) {
	return invoke[ItemReply](ctx, c.cc, "ListItem", in)
}

func (c *MarketplaceClient) Purchase(ctx context.Context, in *PurchaseRequest) (*PurchaseReply, error) {
	return invoke[PurchaseReply](ctx, c.cc, "Purchase", in)
}

func (c *MarketplaceClient) Withdraw(ctx context.Context, in *WithdrawRequest) (*AmountReply, error) {
	return invoke[AmountReply](ctx, c.cc, "Withdraw", in)
}

func (c *MarketplaceClient) GetItem(ctx context.Context, in *GetItemRequest) (*ItemReply, error) {
	return invoke[ItemReply](ctx, c.cc, "GetItem", in)
}

func (c *MarketplaceClient) ListItems(ctx context.Context, in *ListItemsRequest) (*ListItemsReply, error) {
	return invoke[ListItemsReply](ctx, c.cc, "ListItems", in)
}

func (c *MarketplaceClient) ProceedsOf(ctx context.Context, in *ProceedsOfRequest) (*AmountReply, error) {
	return invoke[AmountReply](ctx, c.cc, "ProceedsOf", in)
}
