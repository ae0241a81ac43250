package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tokenledger/config"
	"tokenledger/core/state"
	"tokenledger/native/token"
	"tokenledger/observability"
	"tokenledger/observability/logging"
	"tokenledger/storage"
	"tokenledger/storage/trie"
)

var (
	// ErrInstanceArchived indicates the instance lifetime ended before the
	// current ledger sequence.
	ErrInstanceArchived = errors.New("host: instance archived")
	// ErrSequenceRegressed indicates an attempt to move the ledger clock backwards.
	ErrSequenceRegressed = errors.New("host: ledger sequence regressed")
	// ErrSequenceOverflow indicates the ledger clock cannot advance further.
	ErrSequenceOverflow = errors.New("host: ledger sequence overflow")
	// ErrHostClosed indicates the host released its database.
	ErrHostClosed = errors.New("host: closed")
)

var (
	headRootKey     = []byte("tokenledger/head/root")
	headSequenceKey = []byte("tokenledger/head/sequence")
)

type runMode int

const (
	modeApply runMode = iota
	modeView
	modeRestore
)

// Operation is one logical token operation. Any error it returns discards
// every write it made.
type Operation func(store *token.Store) error

// Host owns the token state trie and the ledger clock. It serialises
// operations and provides the all-or-nothing semantics the token store relies
// on.
type Host struct {
	mu      sync.Mutex
	db      storage.Database
	ownsDB  bool
	trie    *trie.Trie
	seq     uint32
	closed  bool
	logger  *slog.Logger
	metrics *observability.TokenMetrics
	tracer  trace.Tracer
}

// Option customises a Host.
type Option func(*Host)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics overrides the process-wide token metrics.
func WithMetrics(metrics *observability.TokenMetrics) Option {
	return func(h *Host) {
		if metrics != nil {
			h.metrics = metrics
		}
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Host) {
		if tracer != nil {
			h.tracer = tracer
		}
	}
}

// NewHost opens the state last committed to db. The ledger clock starts at
// the greater of seq and the committed sequence. The caller keeps ownership
// of db.
func NewHost(db storage.Database, seq uint32, opts ...Option) (*Host, error) {
	if db == nil {
		return nil, fmt.Errorf("host: nil database")
	}
	h := &Host{
		db:     db,
		seq:    seq,
		logger: slog.Default(),
		tracer: otel.Tracer("tokenledger/core"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = observability.Token()
	}

	root, err := db.Get(headRootKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("host: load head root: %w", err)
	}
	if raw, err := db.Get(headSequenceKey); err == nil {
		var committed uint64
		if err := rlp.DecodeBytes(raw, &committed); err != nil {
			return nil, fmt.Errorf("host: decode head sequence: %w", err)
		}
		if committed > math.MaxUint32 {
			return nil, fmt.Errorf("host: head sequence overflow: %d", committed)
		}
		if uint32(committed) > h.seq {
			h.seq = uint32(committed)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("host: load head sequence: %w", err)
	}

	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("host: open state trie: %w", err)
	}
	if err := state.NewManager(tr).EnsureStateVersion(); err != nil {
		return nil, err
	}
	h.trie = tr
	h.metrics.SetLedgerSequence(h.seq)
	h.publishLiveUntil(state.NewManager(tr))
	return h, nil
}

// Open builds the configured database backend and a host over it. The host
// closes the database on Close.
func Open(cfg *config.Config, opts ...Option) (*Host, error) {
	if cfg == nil {
		return nil, fmt.Errorf("host: nil config")
	}
	if err := cfg.VerifyAdminKeystore(); err != nil {
		return nil, fmt.Errorf("host: %w", err)
	}
	if !setsLogger(opts) {
		logger := logging.Setup("tokenledger", cfg.Environment,
			logging.WithLevel(logging.ParseLevel(cfg.LogLevel)),
			logging.WithFile(logging.FileOptions{Path: cfg.LogFile}))
		opts = append([]Option{WithLogger(logger)}, opts...)
	}
	var db storage.Database
	switch cfg.Backend {
	case config.BackendMemory:
		db = storage.NewMemDB()
	case config.BackendLevelDB:
		ldb, err := storage.OpenLevelDB(cfg.DataDir, storage.LevelDBOptions{
			CacheMB: cfg.LevelDBCache,
			Handles: cfg.LevelDBHandles,
		})
		if err != nil {
			return nil, fmt.Errorf("host: open leveldb %s: %w", cfg.DataDir, err)
		}
		db = ldb
	default:
		return nil, fmt.Errorf("host: unsupported backend %q", cfg.Backend)
	}
	h, err := NewHost(db, cfg.InitialLedgerSeq, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	h.ownsDB = true
	return h, nil
}

func setsLogger(opts []Option) bool {
	var scratch Host
	for _, opt := range opts {
		opt(&scratch)
	}
	return scratch.logger != nil
}

// Invoke runs op against a staged copy of the pending state. The copy
// replaces the pending state only when op succeeds.
func (h *Host) Invoke(ctx context.Context, name string, op Operation) error {
	return h.run(ctx, name, op, modeApply)
}

// View runs op against a throw-away copy of the pending state. Writes made by
// op are always discarded.
func (h *Host) View(ctx context.Context, name string, op Operation) error {
	return h.run(ctx, name, op, modeView)
}

// Restore revives an archived instance by extending its lifetime to the
// current ledger plus token.BumpAmount. It is the only operation accepted
// while the instance is archived; on a live instance it applies the regular
// extension policy. It returns the resulting live-until sequence.
func (h *Host) Restore(ctx context.Context) (uint32, error) {
	err := h.run(ctx, "restore", func(store *token.Store) error {
		return store.ExtendStorageLifetime()
	}, modeRestore)
	if err != nil {
		return 0, err
	}
	liveUntil, _, err := h.InstanceLiveUntil()
	return liveUntil, err
}

func (h *Host) run(ctx context.Context, name string, op Operation, mode runMode) error {
	if op == nil {
		return fmt.Errorf("host: nil operation %q", name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}

	id := uuid.NewString()
	_, span := h.tracer.Start(ctx, "token."+name,
		trace.WithAttributes(
			attribute.String("invocation.id", id),
			attribute.Int64("ledger.sequence", int64(h.seq)),
			attribute.Bool("invocation.read_only", mode == modeView),
		))
	defer span.End()

	start := time.Now()
	staged := h.trie.Copy()
	manager := state.NewManager(staged)
	err := h.execute(manager, op, mode == modeRestore)
	duration := time.Since(start)

	if err != nil {
		kind := failureKind(err)
		h.metrics.ObserveInvocation(name, kind, duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Warn("token operation rolled back",
			slog.String("op", name),
			slog.String("invocation", id),
			slog.Uint64("sequence", uint64(h.seq)),
			slog.String("kind", kind),
			slog.Any("error", err))
		return err
	}

	h.metrics.ObserveInvocation(name, "", duration)
	if mode != modeView {
		h.trie = staged
		h.publishLiveUntil(manager)
	}
	span.SetStatus(codes.Ok, "")
	h.logger.Debug("token operation applied",
		slog.String("op", name),
		slog.String("invocation", id),
		slog.Uint64("sequence", uint64(h.seq)),
		slog.Bool("read_only", mode == modeView),
		slog.Duration("duration", duration))
	return nil
}

func (h *Host) execute(manager *state.Manager, op Operation, restoring bool) error {
	if !restoring {
		archived, err := manager.InstanceArchived(h.seq)
		if err != nil {
			return err
		}
		if archived {
			liveUntil, _, err := manager.InstanceLiveUntil()
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: live until %d, ledger %d", ErrInstanceArchived, liveUntil, h.seq)
		}
	}
	return op(token.NewStore(&invocationState{manager: manager, seq: h.seq}))
}

func (h *Host) publishLiveUntil(manager *state.Manager) {
	liveUntil, ok, err := manager.InstanceLiveUntil()
	if err != nil || !ok {
		return
	}
	h.metrics.SetInstanceLiveUntil(liveUntil)
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrInstanceArchived):
		return "archived"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return string(token.KindOf(err))
}

// LedgerSequence returns the current ledger sequence.
func (h *Host) LedgerSequence() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// SetLedgerSequence moves the ledger clock to seq. The clock never moves
// backwards.
func (h *Host) SetLedgerSequence(seq uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if seq < h.seq {
		return fmt.Errorf("%w: %d < %d", ErrSequenceRegressed, seq, h.seq)
	}
	h.seq = seq
	h.metrics.SetLedgerSequence(seq)
	return nil
}

// AdvanceLedger moves the ledger clock forward by n and returns the new
// sequence.
func (h *Host) AdvanceLedger(n uint32) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seq > math.MaxUint32-n {
		return h.seq, fmt.Errorf("%w: %d + %d", ErrSequenceOverflow, h.seq, n)
	}
	h.seq += n
	h.metrics.SetLedgerSequence(h.seq)
	return h.seq, nil
}

// Commit persists the pending state together with the ledger sequence and
// returns the new state root.
func (h *Host) Commit() (common.Hash, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return common.Hash{}, ErrHostClosed
	}
	// The pending trie is only replaced once the new head is durable.
	staged := h.trie.Copy()
	root, err := staged.Commit(uint64(h.seq))
	if err != nil {
		return common.Hash{}, fmt.Errorf("host: commit state: %w", err)
	}
	seq, err := rlp.EncodeToBytes(uint64(h.seq))
	if err != nil {
		return common.Hash{}, err
	}
	batch := h.db.NewBatch()
	if err := batch.Put(headRootKey, root.Bytes()); err != nil {
		return common.Hash{}, fmt.Errorf("host: store head root: %w", err)
	}
	if err := batch.Put(headSequenceKey, seq); err != nil {
		return common.Hash{}, fmt.Errorf("host: store head sequence: %w", err)
	}
	if err := batch.Write(); err != nil {
		return common.Hash{}, fmt.Errorf("host: write head: %w", err)
	}
	h.trie = staged
	h.logger.Info("token state committed",
		slog.String("root", root.Hex()),
		slog.Uint64("sequence", uint64(h.seq)))
	return root, nil
}

// Root returns the last committed state root.
func (h *Host) Root() common.Hash {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trie.Root()
}

// PendingRoot returns the root of the state including uncommitted operations.
func (h *Host) PendingRoot() common.Hash {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trie.Hash()
}

// InstanceLiveUntil reports the pending instance lifetime. ok is false until
// the first extension.
func (h *Host) InstanceLiveUntil() (uint32, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return state.NewManager(h.trie).InstanceLiveUntil()
}

// Close releases the database when the host opened it. Uncommitted state is
// dropped.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	if h.ownsDB {
		h.db.Close()
	}
}

// invocationState binds the state manager to the ledger sequence of one
// operation.
type invocationState struct {
	manager *state.Manager
	seq     uint32
}

func (s *invocationState) KVGet(key []byte, out interface{}) (bool, error) {
	return s.manager.KVGet(key, out)
}

func (s *invocationState) KVPut(key []byte, value interface{}) error {
	return s.manager.KVPut(key, value)
}

func (s *invocationState) ExtendInstanceTTL(threshold, bump uint32) error {
	_, _, err := s.manager.ExtendInstanceTTL(s.seq, threshold, bump)
	return err
}

func (s *invocationState) LedgerSequence() uint32 {
	return s.seq
}
