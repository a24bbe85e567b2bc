// Package api serves recipient queries and registration submissions over
// HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/events"
	"github.com/ripkitten-co/grantbook/indexer"
	"github.com/ripkitten-co/grantbook/projections"
	"github.com/ripkitten-co/grantbook/recipient"
	"github.com/ripkitten-co/grantbook/snapshot"
)

// Snapshots answers queries from chain history.
type Snapshots interface {
	ListRecipients(ctx context.Context, registry common.Address, w recipient.Window) ([]snapshot.Project, error)
	GetRecipient(ctx context.Context, registry common.Address, id string) (*snapshot.Project, error)
}

// ReadModel answers queries from the indexed collections.
type ReadModel interface {
	Recipients(ctx context.Context, registry string) ([]*recipient.Recipient, error)
	Summary(ctx context.Context, registry string) (*indexer.RegistrySummary, error)
}

// Submitter sends a registration transaction.
type Submitter interface {
	Submit(ctx context.Context, registry, payout common.Address, metadata string) (common.Hash, error)
}

// EventLog reads the stored chain events of one registry.
type EventLog interface {
	ReadStream(ctx context.Context, streamID string, fromBlock uint64) ([]events.Event, error)
}

type Checkpoints interface {
	List(ctx context.Context) ([]projections.Checkpoint, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Option func(*Handler)

// WithSubmitter enables POST registrations. Without it they answer 503.
func WithSubmitter(s Submitter) Option {
	return func(h *Handler) { h.submitter = s }
}

// WithEventLog enables GET /registries/{registry}/events.
func WithEventLog(l EventLog) Option {
	return func(h *Handler) { h.eventLog = l }
}

func WithCheckpoints(c Checkpoints) Option {
	return func(h *Handler) { h.checkpoints = c }
}

// WithHealthCheck adds a dependency probed by /healthz.
func WithHealthCheck(name string, p Pinger) Option {
	return func(h *Handler) { h.health[name] = p }
}

type Handler struct {
	snapshots   Snapshots
	readModel   ReadModel
	submitter   Submitter
	eventLog    EventLog
	checkpoints Checkpoints
	health      map[string]Pinger
	logger      *slog.Logger
}

func New(snapshots Snapshots, readModel ReadModel, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		snapshots: snapshots,
		readModel: readModel,
		health:    make(map[string]Pinger),
		logger:    logger,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	r.Get("/projections", h.HandleProjections)
	r.Route("/registries/{registry}", func(r chi.Router) {
		r.Get("/recipients", h.HandleListRecipients)
		r.Post("/recipients", h.HandleSubmit)
		r.Get("/recipients/{id}", h.HandleGetRecipient)
		r.Get("/indexed", h.HandleIndexed)
		r.Get("/summary", h.HandleSummary)
		r.Get("/events", h.HandleEvents)
	})
}

// Router returns a router with the API and request middleware. metrics is
// mounted at /metrics when non-nil.
func (h *Handler) Router(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	h.Register(r)
	return r
}

// HandleListRecipients handles GET /registries/{registry}/recipients.
func (h *Handler) HandleListRecipients(w http.ResponseWriter, r *http.Request) {
	registry, ok := registryParam(w, r)
	if !ok {
		return
	}
	var win recipient.Window
	var err error
	if win.Start, err = uintQuery(r, "start"); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "start must be a unix timestamp")
		return
	}
	if win.End, err = uintQuery(r, "end"); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "end must be a unix timestamp")
		return
	}

	projects, err := h.snapshots.ListRecipients(r.Context(), registry, win)
	if err != nil {
		h.fail(w, r, "list recipients", err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// HandleGetRecipient handles GET /registries/{registry}/recipients/{id}.
func (h *Handler) HandleGetRecipient(w http.ResponseWriter, r *http.Request) {
	registry, ok := registryParam(w, r)
	if !ok {
		return
	}
	project, err := h.snapshots.GetRecipient(r.Context(), registry, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get recipient", err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// HandleIndexed handles GET /registries/{registry}/indexed.
func (h *Handler) HandleIndexed(w http.ResponseWriter, r *http.Request) {
	registry, ok := registryParam(w, r)
	if !ok {
		return
	}
	recs, err := h.readModel.Recipients(r.Context(), recipient.FormatAddress(registry))
	if err != nil {
		h.fail(w, r, "indexed recipients", err)
		return
	}
	if recs == nil {
		recs = []*recipient.Recipient{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleSummary handles GET /registries/{registry}/summary.
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	registry, ok := registryParam(w, r)
	if !ok {
		return
	}
	summary, err := h.readModel.Summary(r.Context(), recipient.FormatAddress(registry))
	if err != nil {
		h.fail(w, r, "registry summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type eventView struct {
	Type        string              `json:"type"`
	BlockNumber uint64              `json:"blockNumber"`
	LogIndex    uint                `json:"logIndex"`
	TxHash      string              `json:"txHash"`
	Position    int64               `json:"position"`
	Data        jsoniter.RawMessage `json:"data"`
}

// HandleEvents handles GET /registries/{registry}/events?from=<block>.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.eventLog == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event log is not enabled")
		return
	}
	registry, ok := registryParam(w, r)
	if !ok {
		return
	}
	from, err := uintQuery(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "from must be a block number")
		return
	}
	evts, err := h.eventLog.ReadStream(r.Context(), recipient.FormatAddress(registry), from)
	if err != nil {
		h.fail(w, r, "read events", err)
		return
	}
	out := make([]eventView, 0, len(evts))
	for _, e := range evts {
		out = append(out, eventView{
			Type:        e.Type,
			BlockNumber: e.BlockNumber,
			LogIndex:    e.LogIndex,
			TxHash:      e.TxHash,
			Position:    e.GlobalPosition,
			Data:        e.Data,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type submitRequest struct {
	Address  string `json:"address"`
	Metadata string `json:"metadata"`
}

type submitResponse struct {
	TxHash string `json:"txHash"`
}

// HandleSubmit handles POST /registries/{registry}/recipients. It answers
// once the transaction is sent, before it is mined.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if h.submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "registration is not enabled")
		return
	}
	registry, ok := registryParam(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if !common.IsHexAddress(req.Address) {
		writeError(w, http.StatusBadRequest, "bad_request", "address must be a hex address")
		return
	}

	hash, err := h.submitter.Submit(r.Context(), registry, common.HexToAddress(req.Address), req.Metadata)
	if err != nil {
		h.fail(w, r, "submit registration", err)
		return
	}
	h.logger.InfoContext(r.Context(), "registration submitted",
		"registry", recipient.FormatAddress(registry), "tx", hash.Hex())
	writeJSON(w, http.StatusAccepted, submitResponse{TxHash: hash.Hex()})
}

// HandleProjections handles GET /projections.
func (h *Handler) HandleProjections(w http.ResponseWriter, r *http.Request) {
	if h.checkpoints == nil {
		writeJSON(w, http.StatusOK, []projections.Checkpoint{})
		return
	}
	cps, err := h.checkpoints.List(r.Context())
	if err != nil {
		h.fail(w, r, "list projections", err)
		return
	}
	if cps == nil {
		cps = []projections.Checkpoint{}
	}
	writeJSON(w, http.StatusOK, cps)
}

// HandleHealth handles GET /healthz.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.health))
	for name, p := range h.health {
		if err := p.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, checks)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, grantbook.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	default:
		h.logger.ErrorContext(r.Context(), op+" failed",
			"request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func registryParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "registry")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "bad_request", "registry must be a hex address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// uintQuery parses an optional non-negative integer query value. Absent is 0.
func uintQuery(r *http.Request, key string) (uint64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}
