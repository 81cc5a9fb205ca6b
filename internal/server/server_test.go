package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	errorsmod "cosmossdk.io/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"PowerPerp/internal/core"
	"PowerPerp/internal/observability"
	"PowerPerp/internal/server"
	"PowerPerp/internal/state"
)

type fakeEngine struct {
	infos   []core.Info
	msgs    []core.Msg
	queries int
	err     error
}

func (f *fakeEngine) Execute(_ context.Context, info core.Info, msg core.Msg) (*core.Result, error) {
	f.infos = append(f.infos, info)
	f.msgs = append(f.msgs, msg)
	if f.err != nil {
		return nil, f.err
	}
	return &core.Result{RequestID: info.RequestID, Sequence: 7}, nil
}

func (f *fakeEngine) Query(context.Context, func(*core.Engine) (interface{}, error)) (interface{}, error) {
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	return "42", nil
}

func newService(eng *fakeEngine) *server.EngineService {
	return server.NewEngineService(server.Deps{
		Engine: eng,
		Clock:  func() int64 { return 1_700_000_000 },
	})
}

// ============================================================================
// Service
// ============================================================================

func TestExecuteDecodesAndStampsTime(t *testing.T) {
	eng := &fakeEngine{}
	svc := newService(eng)

	resp, err := svc.Execute(context.Background(), &server.ExecuteRequest{
		Type: core.TypeDeposit,
		Info: core.Info{Sender: "alice", RequestID: "r-1"},
		Msg:  json.RawMessage(`{"vault_id":3}`),
	})
	require.NoError(t, err)
	require.Equal(t, core.TypeDeposit, resp.Type)
	require.Equal(t, int64(7), resp.Result.Sequence)
	require.Equal(t, int64(1_700_000_000), eng.infos[0].Time)
	require.Equal(t, uint64(3), eng.msgs[0].(core.MsgDeposit).VaultID)
}

func TestExecuteIgnoresCallerTime(t *testing.T) {
	eng := &fakeEngine{}
	svc := newService(eng)

	_, err := svc.Execute(context.Background(), &server.ExecuteRequest{
		Type: core.TypeUnpause,
		Info: core.Info{Sender: "bob", Time: 1_700_000_000 + 8*86_400},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1_700_000_000), eng.infos[0].Time)
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	eng := &fakeEngine{}
	svc := newService(eng)

	_, err := svc.Execute(context.Background(), &server.ExecuteRequest{Type: core.TypePause})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.Execute(context.Background(), &server.ExecuteRequest{Type: "teleport", Info: core.Info{Sender: "a"}})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	require.Empty(t, eng.msgs)
}

func TestErrorKindsMapToCodes(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{errorsmod.Wrap(state.ErrValidation, "x"), codes.InvalidArgument},
		{errorsmod.Wrap(state.ErrUnauthorized, "x"), codes.PermissionDenied},
		{errorsmod.Wrap(state.ErrState, "x"), codes.FailedPrecondition},
		{errorsmod.Wrap(state.ErrSolvency, "x"), codes.FailedPrecondition},
		{errorsmod.Wrap(state.ErrInsufficientFunds, "x"), codes.ResourceExhausted},
		{errorsmod.Wrap(state.ErrExternalCall, "x"), codes.Unavailable},
		{core.ErrRunnerStopped, codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
	}
	for _, tc := range cases {
		svc := newService(&fakeEngine{err: tc.err})
		_, err := svc.Execute(context.Background(), &server.ExecuteRequest{Type: core.TypePause, Info: core.Info{Sender: "a"}})
		require.Equal(t, tc.code, status.Code(err), tc.err.Error())
	}
}

func TestQueryNamesAndUnknownQuery(t *testing.T) {
	eng := &fakeEngine{}
	svc := newService(eng)

	_, err := svc.Query(context.Background(), &server.QueryRequest{Query: "nope"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	require.Zero(t, eng.queries)

	resp, err := svc.Query(context.Background(), &server.QueryRequest{Query: "state"})
	require.NoError(t, err)
	require.Equal(t, "42", resp.Result)

	require.Contains(t, server.QueryNames(), "liquidation_preview")
	require.Contains(t, server.QueryNames(), "vaults_by_owner")
}

func TestProjectionCallsWithoutPostgres(t *testing.T) {
	svc := newService(&fakeEngine{})

	_, err := svc.FundingHistory(context.Background(), &server.HistoryRequest{})
	require.Equal(t, codes.Unavailable, status.Code(err))
	_, err = svc.TakeSnapshot(context.Background(), &server.Empty{})
	require.Equal(t, codes.Unavailable, status.Code(err))
}

// ============================================================================
// HTTP gateway
// ============================================================================

func serveHTTP(t *testing.T, svc *server.EngineService, hc *observability.HealthChecker, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux, err := server.NewGatewayMux(svc, hc)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestGatewayExecute(t *testing.T) {
	eng := &fakeEngine{}
	rec := serveHTTP(t, newService(eng), nil, http.MethodPost, "/v1/execute/mint",
		`{"info":{"sender":"alice","funds":[{"denom":"uweth","amount":"100"}]},"msg":{"amount":"10"}}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp server.ExecuteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, core.TypeMint, resp.Type)
	require.Equal(t, int64(10), eng.msgs[0].(core.MsgMint).Amount.Int64())
}

func TestGatewayMapsErrors(t *testing.T) {
	eng := &fakeEngine{err: errorsmod.Wrap(state.ErrUnauthorized, "sender is not the owner")}
	rec := serveHTTP(t, newService(eng), nil, http.MethodPost, "/v1/execute/pause", `{"info":{"sender":"mallory"}}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "not the owner")

	rec = serveHTTP(t, newService(&fakeEngine{}), nil, http.MethodGet, "/v1/query/vault?vault_id=abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveHTTP(t, newService(&fakeEngine{}), nil, http.MethodGet, "/v1/funding/history", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGatewayQuery(t *testing.T) {
	eng := &fakeEngine{}
	rec := serveHTTP(t, newService(eng), nil, http.MethodGet, "/v1/query/liquidation_preview?vault_id=1&max_debt=500&time=1700000100", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, eng.queries)
}

func TestGatewayHealth(t *testing.T) {
	hc := observability.NewHealthChecker()
	svc := newService(&fakeEngine{})

	require.Equal(t, http.StatusOK, serveHTTP(t, svc, hc, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusServiceUnavailable, serveHTTP(t, svc, hc, http.MethodGet, "/readyz", "").Code)
	hc.SetReady(true)
	require.Equal(t, http.StatusOK, serveHTTP(t, svc, hc, http.MethodGet, "/readyz", "").Code)
}

// ============================================================================
// gRPC
// ============================================================================

func TestGRPCExecuteOverJSONCodec(t *testing.T) {
	eng := &fakeEngine{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	srv := server.NewGRPCServer("", "", newService(eng), nil, metrics, zerolog.Nop())

	lis := bufconn.Listen(1 << 20)
	gs := srv.GRPC()
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(server.CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var resp server.ExecuteResponse
	err = conn.Invoke(context.Background(), "/"+server.ServiceName+"/Execute",
		&server.ExecuteRequest{Type: core.TypeApplyFunding, Info: core.Info{Sender: "keeper", RequestID: "r-5"}}, &resp)
	require.NoError(t, err)
	require.Equal(t, "r-5", resp.Result.RequestID)
	require.IsType(t, core.MsgApplyFunding{}, eng.msgs[0])

	err = conn.Invoke(context.Background(), "/"+server.ServiceName+"/Query", &server.QueryRequest{Query: "bogus"}, &server.QueryResponse{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	method := "/" + server.ServiceName + "/Execute"
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.QueryRequests.WithLabelValues(method, codes.OK.String())))
}
