package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/recipient"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LogSource returns a registry's complete event history from block 0 in
// block order. With ids set, only events for those recipients are
// returned.
type LogSource interface {
	RecipientAdded(ctx context.Context, registry common.Address, ids ...common.Hash) ([]recipient.AddedEvent, error)
	RecipientRemoved(ctx context.Context, registry common.Address, ids ...common.Hash) ([]recipient.RemovedEvent, error)
}

// Cache stores encoded list results. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Metrics observes snapshot requests. A nil Metrics is ignored.
type Metrics interface {
	SnapshotServed(op string, elapsed time.Duration)
	SnapshotFailed(op string)
	SnapshotCache(hit bool)
}

type Option func(*Reconciler)

// WithGateway sets the IPFS gateway base URL used for image links.
func WithGateway(url string) Option {
	return func(r *Reconciler) { r.gateway = strings.TrimRight(url, "/") }
}

func WithCache(c Cache) Option {
	return func(r *Reconciler) { r.cache = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// Reconciler is safe for concurrent use; it keeps no per-request state.
type Reconciler struct {
	logs    LogSource
	gateway string
	cache   Cache
	logger  *slog.Logger
	metrics Metrics
}

func New(logs LogSource, opts ...Option) *Reconciler {
	r := &Reconciler{
		logs:    logs,
		gateway: DefaultGateway,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ListRecipients returns every recipient ever added to registry that has
// decodable metadata, flagged for window w. A fetch failure fails the whole
// request. A recipient added more than once appears once, at its first
// position, with the contents of its last add.
func (r *Reconciler) ListRecipients(ctx context.Context, registry common.Address, w recipient.Window) ([]Project, error) {
	start := time.Now()
	key := listKey(registry, w)

	if cached, ok := r.cached(ctx, key); ok {
		r.served("list", start)
		return cached, nil
	}

	var (
		added   []recipient.AddedEvent
		removed []recipient.RemovedEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		added, err = r.logs.RecipientAdded(gctx, registry)
		if err != nil {
			return fmt.Errorf("snapshot: fetch added %s: %w", registry.Hex(), err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		removed, err = r.logs.RecipientRemoved(gctx, registry)
		if err != nil {
			return fmt.Errorf("snapshot: fetch removed %s: %w", registry.Hex(), err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		r.failed("list")
		return nil, err
	}

	removals := make(map[string]*recipient.Removal, len(removed))
	for _, evt := range removed {
		rm, err := recipient.DecodeRemoval(evt)
		if err != nil {
			r.logger.WarnContext(ctx, "removal skipped", "registry", registry.Hex(), "error", err)
			continue
		}
		if _, seen := removals[rm.RecipientID]; seen {
			continue
		}
		removals[rm.RecipientID] = &rm
	}

	projects := make([]Project, 0, len(added))
	positions := make(map[string]int, len(added))
	for _, evt := range added {
		rec, meta, err := decode(evt)
		if err != nil {
			r.logger.DebugContext(ctx, "recipient skipped",
				"registry", registry.Hex(), "recipient_id", evt.RecipientID.Hex(), "error", err)
			continue
		}

		p := newProject(rec, meta, r.gateway)
		flags := recipient.Evaluate(rec.SubmittedAt, removals[rec.ID], w)
		p.IsHidden, p.IsLocked = flags.Hidden, flags.Locked

		if i, ok := positions[rec.ID]; ok {
			projects[i] = p
			continue
		}
		positions[rec.ID] = len(projects)
		projects = append(projects, p)
	}

	r.store(ctx, key, projects)
	r.served("list", start)
	return projects, nil
}

// GetRecipient looks up one recipient by id. It returns an error wrapping
// grantbook.ErrNotFound when id is malformed, when there is not exactly one
// add event for it, or when its metadata does not decode. A malformed id
// also wraps recipient.ErrInvalidID and never reaches the log source.
//
// Flags use recipient.LookupFlags: any removal locks, nothing hides.
func (r *Reconciler) GetRecipient(ctx context.Context, registry common.Address, id string) (*Project, error) {
	start := time.Now()

	h, err := recipient.ParseID(id)
	if err != nil {
		return nil, fmt.Errorf("snapshot: get %q: %w: %w", id, grantbook.ErrNotFound, err)
	}

	added, err := r.logs.RecipientAdded(ctx, registry, h)
	if err != nil {
		r.failed("get")
		return nil, fmt.Errorf("snapshot: fetch added %s: %w", h.Hex(), err)
	}
	if len(added) != 1 {
		return nil, fmt.Errorf("snapshot: get %s: %d add events: %w", h.Hex(), len(added), grantbook.ErrNotFound)
	}

	rec, meta, err := decode(added[0])
	if err != nil {
		return nil, fmt.Errorf("snapshot: get %s: %w: %w", h.Hex(), grantbook.ErrNotFound, err)
	}

	removed, err := r.logs.RecipientRemoved(ctx, registry, h)
	if err != nil {
		r.failed("get")
		return nil, fmt.Errorf("snapshot: fetch removed %s: %w", h.Hex(), err)
	}

	var removal *recipient.Removal
	for _, evt := range removed {
		rm, err := recipient.DecodeRemoval(evt)
		if err != nil || rm.RecipientID != rec.ID {
			continue
		}
		removal = &rm
		break
	}

	p := newProject(rec, meta, r.gateway)
	flags := recipient.LookupFlags(removal)
	p.IsHidden, p.IsLocked = flags.Hidden, flags.Locked

	r.served("get", start)
	return &p, nil
}

func decode(evt recipient.AddedEvent) (recipient.Recipient, recipient.Metadata, error) {
	rec, err := recipient.Decode(evt)
	if err != nil {
		return recipient.Recipient{}, recipient.Metadata{}, err
	}
	meta, err := recipient.DecodeMetadata(rec.Metadata)
	if err != nil {
		return recipient.Recipient{}, recipient.Metadata{}, err
	}
	return rec, meta, nil
}

func listKey(registry common.Address, w recipient.Window) string {
	return fmt.Sprintf("recipients:%s:%d:%d", recipient.FormatAddress(registry), w.Start, w.End)
}

func (r *Reconciler) cached(ctx context.Context, key string) ([]Project, bool) {
	if r.cache == nil {
		return nil, false
	}
	data, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.WarnContext(ctx, "snapshot cache read failed", "key", key, "error", err)
		return nil, false
	}
	if r.metrics != nil {
		r.metrics.SnapshotCache(ok)
	}
	if !ok {
		return nil, false
	}
	var projects []Project
	if err := json.Unmarshal(data, &projects); err != nil {
		r.logger.WarnContext(ctx, "snapshot cache entry unreadable", "key", key, "error", err)
		return nil, false
	}
	return projects, true
}

func (r *Reconciler) store(ctx context.Context, key string, projects []Project) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(projects)
	if err != nil {
		r.logger.WarnContext(ctx, "snapshot cache encode failed", "key", key, "error", err)
		return
	}
	if err := r.cache.Set(ctx, key, data); err != nil {
		r.logger.WarnContext(ctx, "snapshot cache write failed", "key", key, "error", err)
	}
}

func (r *Reconciler) served(op string, start time.Time) {
	if r.metrics != nil {
		r.metrics.SnapshotServed(op, time.Since(start))
	}
}

func (r *Reconciler) failed(op string) {
	if r.metrics != nil {
		r.metrics.SnapshotFailed(op)
	}
}
