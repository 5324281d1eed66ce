package api

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"quantdash/internal/domain"
	"quantdash/internal/panel"
)

func dialBacktestService(t *testing.T, srv *Server) *BacktestClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	RegisterBacktestService(gs, NewBacktestService(srv))
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewBacktestClient(conn)
}

func TestGRPCRunAndGetRun(t *testing.T) {
	env := newTestEnv(t)
	client := dialBacktestService(t, env.srv)
	ctx := context.Background()

	_, err := client.Run(ctx, env.srv.defaults)
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.True(t, strings.HasPrefix(status.Convert(err).Message(), KindEmptyPanel))

	p, err := panel.FromPoints(panel.Sample(40, []string{"AAA", "BBB", "CCC", "DDD"}, 3, testNow))
	require.NoError(t, err)
	env.srv.setPanel(p)

	params := env.srv.defaults
	params.CostBps = 0
	res, err := client.Run(ctx, params)
	require.NoError(t, err)
	assert.Len(t, res.RunID, 8)
	assert.Equal(t, 28, res.NDays())
	assert.Equal(t, 0.0, res.Params.CostBps)
	assert.Equal(t, "2024-06-28", res.Window.End.Format(domain.DateLayout))

	got, err := client.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, got.RunID)
	assert.Equal(t, res.Equity(), got.Equity())

	_, err = client.GetRun(ctx, "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	params.Quantile = 0.9
	_, err = client.Run(ctx, params)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
