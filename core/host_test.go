package core

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"tokenledger/config"
	"tokenledger/core/i128"
	"tokenledger/crypto"
	"tokenledger/native/token"
	"tokenledger/observability"
	"tokenledger/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHost(t *testing.T, seq uint32) (*Host, *observability.TokenMetrics) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	metrics := observability.NewTokenMetrics(prometheus.NewRegistry())
	host, err := NewHost(db, seq, WithLogger(quietLogger()), WithMetrics(metrics))
	require.NoError(t, err)
	return host, metrics
}

func addr(seed byte) crypto.Address {
	payload := make([]byte, crypto.AddressLength)
	payload[0] = seed
	payload[crypto.AddressLength-1] = seed
	return crypto.MustNewAddress(crypto.AccountPrefix, payload)
}

func amt(v int64) i128.Int { return i128.New(v) }

func testToken(admin crypto.Address) config.TokenConfig {
	return config.TokenConfig{Name: "Token", Symbol: "TKN", Decimal: 7, Admin: admin.String()}
}

func balanceOf(t *testing.T, h *Host, a crypto.Address) i128.Int {
	t.Helper()
	var out i128.Int
	require.NoError(t, h.View(context.Background(), "balance", func(s *token.Store) error {
		var err error
		out, err = s.ReadBalance(a)
		return err
	}))
	return out
}

func supplyOf(t *testing.T, h *Host) i128.Int {
	t.Helper()
	var out i128.Int
	require.NoError(t, h.View(context.Background(), "total_supply", func(s *token.Store) error {
		var err error
		out, err = s.ReadTotalSupply()
		return err
	}))
	return out
}

func allowanceOf(t *testing.T, h *Host, owner, spender crypto.Address) token.Allowance {
	t.Helper()
	var out token.Allowance
	require.NoError(t, h.View(context.Background(), "allowance", func(s *token.Store) error {
		var err error
		out, err = s.ReadAllowance(owner, spender)
		return err
	}))
	return out
}

func TestMintApproveSpendScenario(t *testing.T) {
	ctx := context.Background()
	host, _ := newTestHost(t, 500)
	a, b := addr(1), addr(2)

	require.True(t, balanceOf(t, host, a).IsZero())

	require.NoError(t, host.Invoke(ctx, "mint", func(s *token.Store) error {
		if err := s.CreditBalance(a, amt(100)); err != nil {
			return err
		}
		return s.AdjustTotalSupply(amt(100))
	}))
	require.Equal(t, amt(100), balanceOf(t, host, a))
	require.Equal(t, amt(100), supplyOf(t, host))

	exp := host.LedgerSequence() + 1000
	require.NoError(t, host.Invoke(ctx, "approve", func(s *token.Store) error {
		return s.WriteAllowance(a, b, amt(40), exp)
	}))
	require.Equal(t, token.Allowance{Amount: amt(40), ExpirationLedger: exp}, allowanceOf(t, host, a, b))

	require.NoError(t, host.Invoke(ctx, "transfer_from", func(s *token.Store) error {
		if err := s.SpendAllowance(a, b, amt(40)); err != nil {
			return err
		}
		if err := s.DebitBalance(a, amt(40)); err != nil {
			return err
		}
		return s.CreditBalance(b, amt(40))
	}))
	require.Equal(t, token.Allowance{Amount: amt(0), ExpirationLedger: exp}, allowanceOf(t, host, a, b))
	require.Equal(t, amt(60), balanceOf(t, host, a))
	require.Equal(t, amt(40), balanceOf(t, host, b))
	require.Equal(t, amt(100), supplyOf(t, host))
}

func TestFailedOperationRollsBackEveryWrite(t *testing.T) {
	ctx := context.Background()
	host, metrics := newTestHost(t, 10)
	a := addr(1)

	before := host.PendingRoot()
	err := host.Invoke(ctx, "burn", func(s *token.Store) error {
		if err := s.CreditBalance(a, amt(100)); err != nil {
			return err
		}
		return s.AdjustTotalSupply(amt(-1))
	})
	require.ErrorIs(t, err, token.ErrNegativeSupply)
	require.Equal(t, before, host.PendingRoot())
	require.True(t, balanceOf(t, host, a).IsZero())
	require.True(t, supplyOf(t, host).IsZero())

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Rollbacks().WithLabelValues("burn", "negative_supply")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Invocations().WithLabelValues("burn", "rolled_back")))
}

func TestFailedTransferLeavesBalancesUntouched(t *testing.T) {
	ctx := context.Background()
	host, _ := newTestHost(t, 10)
	a, b := addr(1), addr(2)

	require.NoError(t, host.Invoke(ctx, "mint", func(s *token.Store) error {
		if err := s.CreditBalance(a, amt(10)); err != nil {
			return err
		}
		return s.AdjustTotalSupply(amt(10))
	}))

	err := host.Invoke(ctx, "transfer", func(s *token.Store) error {
		if err := s.CreditBalance(b, amt(11)); err != nil {
			return err
		}
		return s.DebitBalance(a, amt(11))
	})
	require.ErrorIs(t, err, token.ErrInsufficientFunds)
	require.Equal(t, amt(10), balanceOf(t, host, a))
	require.True(t, balanceOf(t, host, b).IsZero())
}

func TestViewDiscardsWrites(t *testing.T) {
	host, _ := newTestHost(t, 10)
	before := host.PendingRoot()

	require.NoError(t, host.View(context.Background(), "preview", func(s *token.Store) error {
		return s.CreditBalance(addr(1), amt(5))
	}))
	require.Equal(t, before, host.PendingRoot())
	require.True(t, balanceOf(t, host, addr(1)).IsZero())
}

func TestCanceledContextSkipsOperation(t *testing.T) {
	host, metrics := newTestHost(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := host.Invoke(ctx, "mint", func(*token.Store) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
	require.Equal(t, 0, testutil.CollectAndCount(metrics.Invocations()))
}

func TestDeployWritesAdminAndMetadata(t *testing.T) {
	ctx := context.Background()
	host, _ := newTestHost(t, 100)
	admin := addr(9)

	got, err := Deploy(ctx, host, testToken(admin))
	require.NoError(t, err)
	require.Equal(t, admin, got)

	require.NoError(t, host.View(ctx, "metadata", func(s *token.Store) error {
		md, err := s.ReadMetadata()
		require.NoError(t, err)
		require.Equal(t, token.Metadata{Name: "Token", Symbol: "TKN", Decimal: 7}, md)
		stored, err := s.ReadAdministrator()
		require.NoError(t, err)
		require.Equal(t, admin, stored)
		return nil
	}))

	liveUntil, ok, err := host.InstanceLiveUntil()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(100+token.BumpAmount), liveUntil)

	_, err = Deploy(ctx, host, testToken(addr(8)))
	require.ErrorIs(t, err, ErrAlreadyDeployed)
}

func TestDeployRejectsBadConfig(t *testing.T) {
	host, _ := newTestHost(t, 1)
	_, err := Deploy(context.Background(), host, config.TokenConfig{Name: "Token", Symbol: "TKN", Admin: "nope"})
	require.Error(t, err)

	cfg := testToken(addr(1))
	cfg.Decimal = config.MaxDecimal + 1
	_, err = Deploy(context.Background(), host, cfg)
	require.Error(t, err)
}

func TestLifetimeExtendsOnlyNearExpiry(t *testing.T) {
	ctx := context.Background()
	host, metrics := newTestHost(t, 100)
	_, err := Deploy(ctx, host, testToken(addr(1)))
	require.NoError(t, err)

	extend := func() uint32 {
		require.NoError(t, host.Invoke(ctx, "bump", func(s *token.Store) error {
			return s.ExtendStorageLifetime()
		}))
		liveUntil, _, err := host.InstanceLiveUntil()
		require.NoError(t, err)
		return liveUntil
	}

	deployed := uint32(100 + token.BumpAmount)
	require.NoError(t, host.SetLedgerSequence(deployed-token.LifetimeThreshold-1))
	require.Equal(t, deployed, extend(), "remaining lifetime above threshold")

	require.NoError(t, host.SetLedgerSequence(deployed-token.LifetimeThreshold))
	require.Equal(t, deployed-token.LifetimeThreshold+token.BumpAmount, extend())
	require.Equal(t, float64(deployed-token.LifetimeThreshold+token.BumpAmount), testutil.ToFloat64(metrics.InstanceLiveUntil()))
}

func TestArchivedInstanceRejectsOperations(t *testing.T) {
	ctx := context.Background()
	host, metrics := newTestHost(t, 100)
	_, err := Deploy(ctx, host, testToken(addr(1)))
	require.NoError(t, err)

	liveUntil, _, err := host.InstanceLiveUntil()
	require.NoError(t, err)

	require.NoError(t, host.SetLedgerSequence(liveUntil))
	require.NoError(t, host.View(ctx, "name", func(s *token.Store) error {
		_, err := s.ReadName()
		return err
	}))

	_, err = host.AdvanceLedger(1)
	require.NoError(t, err)
	err = host.Invoke(ctx, "mint", func(s *token.Store) error {
		return s.CreditBalance(addr(2), amt(1))
	})
	require.ErrorIs(t, err, ErrInstanceArchived)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Rollbacks().WithLabelValues("mint", "archived")))
}

func TestRestoreRevivesArchivedInstance(t *testing.T) {
	ctx := context.Background()
	host, metrics := newTestHost(t, 0)
	owner := addr(1)
	_, err := Deploy(ctx, host, testToken(owner))
	require.NoError(t, err)
	require.NoError(t, host.Invoke(ctx, "mint", func(s *token.Store) error {
		return s.CreditBalance(owner, amt(9))
	}))

	liveUntil, _, err := host.InstanceLiveUntil()
	require.NoError(t, err)
	current, err := host.AdvanceLedger(liveUntil + 1)
	require.NoError(t, err)

	readBalance := func(s *token.Store) error {
		_, err := s.ReadBalance(owner)
		return err
	}
	require.ErrorIs(t, host.View(ctx, "balance", readBalance), ErrInstanceArchived)
	require.ErrorIs(t, host.Invoke(ctx, "extend", func(s *token.Store) error {
		return s.ExtendStorageLifetime()
	}), ErrInstanceArchived)

	revived, err := host.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, current+token.BumpAmount, revived)
	require.Equal(t, float64(revived), testutil.ToFloat64(metrics.InstanceLiveUntil()))

	require.NoError(t, host.View(ctx, "balance", readBalance))
	require.Equal(t, amt(9), balanceOf(t, host, owner))
	require.NoError(t, host.Invoke(ctx, "mint", func(s *token.Store) error {
		return s.CreditBalance(owner, amt(1))
	}))
	require.Equal(t, amt(10), balanceOf(t, host, owner))

	again, err := host.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, revived, again, "a live instance far from expiry is left alone")
}

func TestLedgerSequenceIsMonotonic(t *testing.T) {
	host, _ := newTestHost(t, 50)

	require.NoError(t, host.SetLedgerSequence(50))
	require.ErrorIs(t, host.SetLedgerSequence(49), ErrSequenceRegressed)

	seq, err := host.AdvanceLedger(10)
	require.NoError(t, err)
	require.Equal(t, uint32(60), seq)

	require.NoError(t, host.SetLedgerSequence(^uint32(0)))
	_, err = host.AdvanceLedger(1)
	require.ErrorIs(t, err, ErrSequenceOverflow)
	require.Equal(t, ^uint32(0), host.LedgerSequence())
}

func TestInvocationsAreSerialised(t *testing.T) {
	ctx := context.Background()
	host, _ := newTestHost(t, 1)
	a := addr(1)

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := host.Invoke(ctx, "mint", func(s *token.Store) error {
				if err := s.CreditBalance(a, amt(1)); err != nil {
					return err
				}
				return s.AdjustTotalSupply(amt(1))
			})
			if err != nil {
				t.Errorf("mint: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, amt(workers), balanceOf(t, host, a))
	require.Equal(t, amt(workers), supplyOf(t, host))
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	admin := addr(7)
	cfg := &config.Config{
		DataDir:          t.TempDir(),
		Backend:          config.BackendLevelDB,
		LevelDBCache:     16,
		LevelDBHandles:   16,
		InitialLedgerSeq: 100,
		Token:            testToken(admin),
	}
	opts := func() []Option {
		return []Option{WithLogger(quietLogger()), WithMetrics(observability.NewTokenMetrics(nil))}
	}

	host, err := Open(cfg, opts()...)
	require.NoError(t, err)
	require.Equal(t, gethtypes.EmptyRootHash, host.Root())

	_, err = Deploy(ctx, host, cfg.Token)
	require.NoError(t, err)
	require.NoError(t, host.Invoke(ctx, "mint", func(s *token.Store) error {
		if err := s.CreditBalance(admin, amt(250)); err != nil {
			return err
		}
		return s.AdjustTotalSupply(amt(250))
	}))
	_, err = host.AdvanceLedger(5)
	require.NoError(t, err)

	root, err := host.Commit()
	require.NoError(t, err)
	require.Equal(t, root, host.Root())
	require.Equal(t, root, host.PendingRoot())

	require.NoError(t, host.Invoke(ctx, "uncommitted", func(s *token.Store) error {
		return s.CreditBalance(admin, amt(1))
	}))
	host.Close()
	require.ErrorIs(t, host.Invoke(ctx, "closed", func(*token.Store) error { return nil }), ErrHostClosed)

	reopened, err := Open(cfg, opts()...)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, root, reopened.Root())
	require.Equal(t, uint32(105), reopened.LedgerSequence())
	require.Equal(t, amt(250), balanceOf(t, reopened, admin))
	require.Equal(t, amt(250), supplyOf(t, reopened))

	_, err = Deploy(ctx, reopened, cfg.Token)
	require.ErrorIs(t, err, ErrAlreadyDeployed)
}

func TestInvokeRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	host, err := NewHost(db, 1,
		WithLogger(quietLogger()),
		WithMetrics(observability.NewTokenMetrics(nil)),
		WithTracer(provider.Tracer("test")))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, host.Invoke(ctx, "mint", func(s *token.Store) error {
		return s.CreditBalance(addr(1), amt(3))
	}))
	require.Error(t, host.Invoke(ctx, "burn", func(s *token.Store) error {
		return s.DebitBalance(addr(1), amt(4))
	}))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "token.mint", spans[0].Name())
	require.Equal(t, codes.Ok, spans[0].Status().Code)
	require.Equal(t, "token.burn", spans[1].Name())
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.NotEmpty(t, spans[1].Events(), "error recorded on span")
}

func TestOpenLogsToConfiguredFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	logPath := filepath.Join(t.TempDir(), "tokenledger.log")
	cfg := &config.Config{
		Backend:     config.BackendMemory,
		Environment: "test",
		LogFile:     logPath,
		LogLevel:    "warn",
		Token:       testToken(addr(7)),
	}
	host, err := Open(cfg, WithMetrics(observability.NewTokenMetrics(nil)))
	require.NoError(t, err)
	defer host.Close()

	ctx := context.Background()
	require.Error(t, host.Invoke(ctx, "burn", func(s *token.Store) error {
		return s.DebitBalance(addr(7), amt(1))
	}))
	_, err = host.Commit()
	require.NoError(t, err)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "token operation rolled back")
	require.Contains(t, string(data), `"op":"burn"`)
	require.NotContains(t, string(data), "token state committed", "info lines are below the configured level")
}

func TestOpenVerifiesAdminKeystore(t *testing.T) {
	dir := t.TempDir()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	keystorePath := filepath.Join(dir, "admin.keystore")
	require.NoError(t, crypto.SaveToKeystore(keystorePath, key, "", crypto.LightScrypt))

	opts := []Option{WithLogger(quietLogger()), WithMetrics(observability.NewTokenMetrics(nil))}
	cfg := &config.Config{
		Backend:       config.BackendMemory,
		AdminKeystore: keystorePath,
		Token:         testToken(addr(7)),
	}
	_, err = Open(cfg, opts...)
	require.ErrorIs(t, err, config.ErrAdminKeystoreMismatch)

	cfg.Token = testToken(key.PubKey().Address())
	host, err := Open(cfg, opts...)
	require.NoError(t, err)
	host.Close()
}
