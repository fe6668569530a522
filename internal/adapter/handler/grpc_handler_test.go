package handler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/escrow-market/internal/adapter/custody"
	"github.com/rl1809/escrow-market/internal/adapter/storage"
	"github.com/rl1809/escrow-market/internal/core/domain"
	"github.com/rl1809/escrow-market/internal/core/service"
)

func newTestGRPC(t *testing.T) *grpc.ClientConn {
	t.Helper()
	market := service.NewMarketplaceService(storage.NewMemoryAdapter(), custody.NewVault(nil))

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterMarketplaceServer(srv, NewGRPCHandler(market))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPC_EndToEnd(t *testing.T) {
	client := NewMarketplaceClient(newTestGRPC(t))
	ctx := context.Background()
	sellerCtx := WithCaller(ctx, "seller")
	buyerCtx := WithCaller(ctx, "buyer")

	item, err := client.ListItem(sellerCtx, &ListItemRequest{Name: "Widget", Price: 100})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), item.ID)

	_, err = client.Purchase(buyerCtx, &PurchaseRequest{ItemID: 1, Value: 50})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	sale, err := client.Purchase(buyerCtx, &PurchaseRequest{ItemID: 1, Value: 100})
	require.NoError(t, err)
	assert.Equal(t, "seller", sale.Seller)

	_, err = client.Purchase(buyerCtx, &PurchaseRequest{ItemID: 1, Value: 100})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	got, err := client.GetItem(ctx, &GetItemRequest{ItemID: 1})
	require.NoError(t, err)
	assert.True(t, got.Sold)
	assert.Equal(t, "buyer", got.Owner)

	proceeds, err := client.ProceedsOf(ctx, &ProceedsOfRequest{Address: "seller"})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), proceeds.Amount)

	paid, err := client.Withdraw(sellerCtx, &WithdrawRequest{})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), paid.Amount)

	_, err = client.Withdraw(sellerCtx, &WithdrawRequest{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	list, err := client.ListItems(ctx, &ListItemsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, []uint64{1}, list.IDs)
}

func TestGRPC_Errors(t *testing.T) {
	client := NewMarketplaceClient(newTestGRPC(t))
	ctx := context.Background()

	_, err := client.ListItem(ctx, &ListItemRequest{Name: "Widget", Price: 1})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = client.ListItem(WithCaller(ctx, "seller"), &ListItemRequest{Name: "Widget"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.GetItem(ctx, &GetItemRequest{ItemID: 42})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.ProceedsOf(ctx, &ProceedsOfRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_Health(t *testing.T) {
	resp, err := healthpb.NewHealthClient(newTestGRPC(t)).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestGRPCError(t *testing.T) {
	assert.NoError(t, grpcError(nil))
	assert.Equal(t, codes.Internal, status.Code(grpcError(assert.AnError)))

	st := status.Convert(grpcError(fmt.Errorf("%w: %w", domain.ErrWithdrawFailed, errors.New("payee says no"))))
	assert.Equal(t, codes.Unavailable, st.Code())
	assert.Equal(t, "withdraw failed", st.Message())
}
