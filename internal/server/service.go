package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"PowerPerp/internal/core"
	"PowerPerp/internal/persistence"
	"PowerPerp/internal/query"
	"PowerPerp/internal/state"
)

// Engine is the serialized engine handle (the core Runner)
type Engine interface {
	Execute(ctx context.Context, info core.Info, msg core.Msg) (*core.Result, error)
	Query(ctx context.Context, fn func(*core.Engine) (interface{}, error)) (interface{}, error)
}

// Projections serves reads from the Postgres projections (the query service)
type Projections interface {
	GetVault(ctx context.Context, vaultID uint64) (*query.VaultResponse, error)
	ListVaultsByOperator(ctx context.Context, operator string, afterID int64, limit int) (*query.Page[query.VaultResponse], error)
	GetVaultHistory(ctx context.Context, vaultID uint64, beforeSequence *int64, limit int) (*query.Page[query.VaultHistoryEntry], error)
	GetFundingHistory(ctx context.Context, beforeSequence *int64, limit int) (*query.Page[query.FundingHistoryEntry], error)
	GetJournalHistory(ctx context.Context, holder string, beforeSequence *int64, limit int) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Snapshots lists stored engine snapshots (the snapshot manager)
type Snapshots interface {
	ListSnapshots(ctx context.Context, limit int) ([]persistence.SnapshotInfo, error)
}

// ExecuteRequest submits one message. Msg is the JSON body of the message
// named by Type.
type ExecuteRequest struct {
	Type string          `json:"type"`
	Info core.Info       `json:"info"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

type ExecuteResponse struct {
	Type   string       `json:"type"`
	Result *core.Result `json:"result"`
}

// QueryParams carries the arguments of every engine query; each query reads
// the fields it needs.
type QueryParams struct {
	VaultID    *uint64      `json:"vault_id,omitempty"`
	Owner      string       `json:"owner,omitempty"`
	StartAfter *uint64      `json:"start_after,omitempty"`
	Limit      *uint32      `json:"limit,omitempty"`
	Period     int64        `json:"period,omitempty"`
	MaxDebt    *sdkmath.Int `json:"max_debt,omitempty"`
	Time       int64        `json:"time,omitempty"` // defaults to now
}

type QueryRequest struct {
	Query  string      `json:"query"`
	Params QueryParams `json:"params"`
}

type QueryResponse struct {
	Query  string      `json:"query"`
	Result interface{} `json:"result"`
}

// HistoryRequest pages backwards through projected history
type HistoryRequest struct {
	VaultID  uint64 `json:"vault_id,omitempty"`
	Holder   string `json:"holder,omitempty"`
	Operator string `json:"operator,omitempty"`
	After    int64  `json:"after,omitempty"`
	Before   *int64 `json:"before,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type SnapshotListRequest struct {
	Limit int `json:"limit,omitempty"`
}

type SnapshotListResponse struct {
	Snapshots []persistence.SnapshotInfo `json:"snapshots"`
}

type Empty struct{}

// engineQuery reads engine state at now
type engineQuery func(e *core.Engine, p QueryParams, now int64) (interface{}, error)

var engineQueries = map[string]engineQuery{
	"config": func(e *core.Engine, _ QueryParams, _ int64) (interface{}, error) {
		return e.QueryConfig(), nil
	},
	"state": func(e *core.Engine, _ QueryParams, _ int64) (interface{}, error) {
		return e.QueryState(), nil
	},
	"owner": func(e *core.Engine, _ QueryParams, _ int64) (interface{}, error) {
		return e.QueryOwner(), nil
	},
	"ownership_proposal": func(e *core.Engine, _ QueryParams, _ int64) (interface{}, error) {
		return e.QueryOwnershipProposal(), nil
	},
	"next_vault_id": func(e *core.Engine, _ QueryParams, _ int64) (interface{}, error) {
		return e.QueryNextVaultID(), nil
	},
	"pending_continuation": func(e *core.Engine, _ QueryParams, _ int64) (interface{}, error) {
		return e.QueryPendingContinuation(), nil
	},
	"vault": func(e *core.Engine, p QueryParams, _ int64) (interface{}, error) {
		if p.VaultID == nil {
			return nil, errVaultID
		}
		return e.QueryVault(*p.VaultID)
	},
	"vaults_by_owner": func(e *core.Engine, p QueryParams, _ int64) (interface{}, error) {
		return e.QueryVaultsByOwner(p.Owner, p.StartAfter, p.Limit)
	},
	"normalization_factor": func(e *core.Engine, _ QueryParams, now int64) (interface{}, error) {
		return e.QueryNormalizationFactor(now)
	},
	"index": func(e *core.Engine, p QueryParams, now int64) (interface{}, error) {
		return e.QueryIndex(p.Period, now)
	},
	"unscaled_index": func(e *core.Engine, p QueryParams, now int64) (interface{}, error) {
		return e.QueryUnscaledIndex(p.Period, now)
	},
	"denormalized_mark": func(e *core.Engine, p QueryParams, now int64) (interface{}, error) {
		return e.QueryDenormalizedMark(p.Period, now)
	},
	"check_vault": func(e *core.Engine, p QueryParams, now int64) (interface{}, error) {
		if p.VaultID == nil {
			return nil, errVaultID
		}
		return e.QueryCheckVault(*p.VaultID, now)
	},
	"vault_health": func(e *core.Engine, p QueryParams, now int64) (interface{}, error) {
		if p.VaultID == nil {
			return nil, errVaultID
		}
		return e.QueryVaultHealth(*p.VaultID, now)
	},
	"liquidation_preview": func(e *core.Engine, p QueryParams, now int64) (interface{}, error) {
		if p.VaultID == nil {
			return nil, errVaultID
		}
		if p.MaxDebt == nil {
			return nil, errorsmod.Wrap(state.ErrValidation, "max_debt is required")
		}
		return e.QueryLiquidationPreview(*p.VaultID, *p.MaxDebt, now)
	},
}

var errVaultID = errorsmod.Wrap(state.ErrValidation, "vault_id is required")

// QueryNames lists the engine queries in name order
func QueryNames() []string {
	names := make([]string, 0, len(engineQueries))
	for name := range engineQueries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EngineService implements the Engine gRPC service and backs the HTTP gateway
type EngineService struct {
	engine       Engine
	projections  Projections
	snapshots    Snapshots
	takeSnapshot func(ctx context.Context) error
	clock        func() int64
}

// Deps holds the service's collaborators. Projections, Snapshots and
// TakeSnapshot are nil when Postgres is disabled.
type Deps struct {
	Engine       Engine
	Projections  Projections
	Snapshots    Snapshots
	TakeSnapshot func(ctx context.Context) error
	Clock        func() int64
}

func NewEngineService(deps Deps) *EngineService {
	clock := deps.Clock
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}
	return &EngineService{
		engine:       deps.Engine,
		projections:  deps.Projections,
		snapshots:    deps.Snapshots,
		takeSnapshot: deps.TakeSnapshot,
		clock:        clock,
	}
}

// Execute runs one message on the engine, stamped with the server clock.
// A caller supplied info.time is ignored.
func (s *EngineService) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	if req.Info.Sender == "" {
		return nil, status.Error(codes.InvalidArgument, "info.sender is required")
	}
	msg, err := core.DecodeMsg(req.Type, req.Msg)
	if err != nil {
		return nil, toStatus(err)
	}
	info := req.Info
	info.Time = s.clock()
	res, err := s.engine.Execute(ctx, info, msg)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ExecuteResponse{Type: msg.Type(), Result: res}, nil
}

// Query reads live engine state
func (s *EngineService) Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	q, ok := engineQueries[req.Query]
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown query %q", req.Query)
	}
	p := req.Params
	now := p.Time
	if now == 0 {
		now = s.clock()
	}
	res, err := s.engine.Query(ctx, func(e *core.Engine) (interface{}, error) {
		return q(e, p, now)
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &QueryResponse{Query: req.Query, Result: res}, nil
}

// ProjectedVault returns a vault as projected in Postgres
func (s *EngineService) ProjectedVault(ctx context.Context, req *HistoryRequest) (*query.VaultResponse, error) {
	if s.projections == nil {
		return nil, errNoProjections
	}
	v, err := s.projections.GetVault(ctx, req.VaultID)
	if err != nil {
		return nil, toStatus(err)
	}
	return v, nil
}

// ProjectedVaults pages through an operator's projected vaults
func (s *EngineService) ProjectedVaults(ctx context.Context, req *HistoryRequest) (*query.Page[query.VaultResponse], error) {
	if s.projections == nil {
		return nil, errNoProjections
	}
	if req.Operator == "" {
		return nil, status.Error(codes.InvalidArgument, "operator is required")
	}
	page, err := s.projections.ListVaultsByOperator(ctx, req.Operator, req.After, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return page, nil
}

func (s *EngineService) VaultHistory(ctx context.Context, req *HistoryRequest) (*query.Page[query.VaultHistoryEntry], error) {
	if s.projections == nil {
		return nil, errNoProjections
	}
	page, err := s.projections.GetVaultHistory(ctx, req.VaultID, req.Before, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return page, nil
}

func (s *EngineService) FundingHistory(ctx context.Context, req *HistoryRequest) (*query.Page[query.FundingHistoryEntry], error) {
	if s.projections == nil {
		return nil, errNoProjections
	}
	page, err := s.projections.GetFundingHistory(ctx, req.Before, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return page, nil
}

func (s *EngineService) JournalHistory(ctx context.Context, req *HistoryRequest) (*query.Page[query.JournalHistoryEntry], error) {
	if s.projections == nil {
		return nil, errNoProjections
	}
	if req.Holder == "" {
		return nil, status.Error(codes.InvalidArgument, "holder is required")
	}
	entries, err := s.projections.GetJournalHistory(ctx, req.Holder, req.Before, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	page := &query.Page[query.JournalHistoryEntry]{Items: entries, AsOfSequence: -1}
	if len(entries) > 0 {
		page.AsOfSequence = entries[0].Sequence
	}
	return page, nil
}

func (s *EngineService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	if s.projections == nil {
		return nil, errNoProjections
	}
	report, err := s.projections.VerifyIntegrity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return report, nil
}

// TakeSnapshot captures and stores an engine snapshot now
func (s *EngineService) TakeSnapshot(ctx context.Context, _ *Empty) (*Empty, error) {
	if s.takeSnapshot == nil {
		return nil, errNoProjections
	}
	if err := s.takeSnapshot(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *EngineService) ListSnapshots(ctx context.Context, req *SnapshotListRequest) (*SnapshotListResponse, error) {
	if s.snapshots == nil {
		return nil, errNoProjections
	}
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	snaps, err := s.snapshots.ListSnapshots(ctx, limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SnapshotListResponse{Snapshots: snaps}, nil
}

var errNoProjections = status.Error(codes.Unavailable, "postgres is not configured")

// toStatus maps engine error kinds to gRPC codes
func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errorsmod.IsOf(err, core.ErrRunnerStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	}
	if kind := state.KindOf(err); kind != state.KindInternal {
		return status.Error(CodeOf(kind), err.Error())
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}

// CodeOf is the gRPC code an error kind is reported with
func CodeOf(kind state.ErrorKind) codes.Code {
	switch kind {
	case state.KindNone:
		return codes.OK
	case state.KindValidation:
		return codes.InvalidArgument
	case state.KindAuthorization:
		return codes.PermissionDenied
	case state.KindState, state.KindSolvency:
		return codes.FailedPrecondition
	case state.KindInsufficientFunds:
		return codes.ResourceExhausted
	case state.KindExternalCall:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
