package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	sdkmath "cosmossdk.io/math"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"PowerPerp/internal/observability"
)

// maxBodyBytes bounds execute request bodies
const maxBodyBytes = 1 << 20

// NewGatewayMux routes the HTTP/JSON API straight onto svc. Errors are
// rendered by the gateway's status error handler.
func NewGatewayMux(svc *EngineService, hc *observability.HealthChecker) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	g := &gateway{svc: svc, mux: mux, marshaler: &runtime.JSONPb{}}

	routes := []route{
		{http.MethodPost, "/v1/execute/{type}", g.execute},
		{http.MethodGet, "/v1/query/{name}", g.query},
		{http.MethodGet, "/v1/vaults/{vault_id}", g.projectedVault},
		{http.MethodGet, "/v1/vaults/{vault_id}/history", g.vaultHistory},
		{http.MethodGet, "/v1/operators/{operator}/vaults", g.projectedVaults},
		{http.MethodGet, "/v1/funding/history", g.fundingHistory},
		{http.MethodGet, "/v1/journals/{holder}", g.journalHistory},
		{http.MethodGet, "/v1/admin/integrity", g.verifyIntegrity},
		{http.MethodPost, "/v1/admin/snapshots", g.takeSnapshot},
		{http.MethodGet, "/v1/admin/snapshots", g.listSnapshots},
	}
	if hc != nil {
		routes = append(routes,
			route{http.MethodGet, "/healthz", plain(hc.LivenessHandler)},
			route{http.MethodGet, "/readyz", plain(hc.ReadinessHandler)},
		)
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

func plain(h http.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) { h(w, r) }
}

type gateway struct {
	svc       *EngineService
	mux       *runtime.ServeMux
	marshaler runtime.Marshaler
}

func (g *gateway) execute(w http.ResponseWriter, r *http.Request, params map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		g.fail(w, r, status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}
	req := ExecuteRequest{Type: params["type"]}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			g.fail(w, r, status.Errorf(codes.InvalidArgument, "decode body: %v", err))
			return
		}
		req.Type = params["type"]
	}
	resp, err := g.svc.Execute(r.Context(), &req)
	g.reply(w, r, resp, err)
}

func (g *gateway) query(w http.ResponseWriter, r *http.Request, params map[string]string) {
	p, err := parseQueryParams(r.URL.Query())
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.svc.Query(r.Context(), &QueryRequest{Query: params["name"], Params: p})
	g.reply(w, r, resp, err)
}

func (g *gateway) projectedVault(w http.ResponseWriter, r *http.Request, params map[string]string) {
	req, err := historyRequest(params, r.URL.Query())
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.svc.ProjectedVault(r.Context(), req)
	g.reply(w, r, resp, err)
}

func (g *gateway) projectedVaults(w http.ResponseWriter, r *http.Request, params map[string]string) {
	req, err := historyRequest(params, r.URL.Query())
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.svc.ProjectedVaults(r.Context(), req)
	g.reply(w, r, resp, err)
}

func (g *gateway) vaultHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	req, err := historyRequest(params, r.URL.Query())
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.svc.VaultHistory(r.Context(), req)
	g.reply(w, r, resp, err)
}

func (g *gateway) fundingHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	req, err := historyRequest(params, r.URL.Query())
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.svc.FundingHistory(r.Context(), req)
	g.reply(w, r, resp, err)
}

func (g *gateway) journalHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	req, err := historyRequest(params, r.URL.Query())
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.svc.JournalHistory(r.Context(), req)
	g.reply(w, r, resp, err)
}

func (g *gateway) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.svc.VerifyIntegrity(r.Context(), &Empty{})
	g.reply(w, r, resp, err)
}

func (g *gateway) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.svc.TakeSnapshot(r.Context(), &Empty{})
	g.reply(w, r, resp, err)
}

func (g *gateway) listSnapshots(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	limit, err := intParam(r.URL.Query(), "limit")
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.svc.ListSnapshots(r.Context(), &SnapshotListRequest{Limit: int(limit)})
	g.reply(w, r, resp, err)
}

func (g *gateway) reply(w http.ResponseWriter, r *http.Request, resp interface{}, err error) {
	if err != nil {
		g.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (g *gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	runtime.HTTPError(r.Context(), g.mux, g.marshaler, w, r, toStatus(err))
}

func parseQueryParams(v url.Values) (QueryParams, error) {
	var p QueryParams
	var err error
	if p.VaultID, err = uint64Param(v, "vault_id"); err != nil {
		return p, err
	}
	if p.StartAfter, err = uint64Param(v, "start_after"); err != nil {
		return p, err
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return p, status.Errorf(codes.InvalidArgument, "invalid limit %q", s)
		}
		limit := uint32(n)
		p.Limit = &limit
	}
	if p.Period, err = intParam(v, "period"); err != nil {
		return p, err
	}
	if p.Time, err = intParam(v, "time"); err != nil {
		return p, err
	}
	if s := v.Get("max_debt"); s != "" {
		amt, ok := sdkmath.NewIntFromString(s)
		if !ok {
			return p, status.Errorf(codes.InvalidArgument, "invalid max_debt %q", s)
		}
		p.MaxDebt = &amt
	}
	p.Owner = v.Get("owner")
	return p, nil
}

func historyRequest(params map[string]string, v url.Values) (*HistoryRequest, error) {
	req := &HistoryRequest{Holder: params["holder"], Operator: params["operator"]}
	if s, ok := params["vault_id"]; ok {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid vault_id %q", s)
		}
		req.VaultID = id
	}
	if s := v.Get("before"); s != "" {
		before, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid before %q", s)
		}
		req.Before = &before
	}
	after, err := intParam(v, "after")
	if err != nil {
		return nil, err
	}
	limit, err := intParam(v, "limit")
	if err != nil {
		return nil, err
	}
	req.After, req.Limit = after, int(limit)
	return req, nil
}

func uint64Param(v url.Values, name string) (*uint64, error) {
	s := v.Get(name)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid %s %q", name, s)
	}
	return &n, nil
}

func intParam(v url.Values, name string) (int64, error) {
	s := v.Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid %s %q", name, s)
	}
	return n, nil
}
