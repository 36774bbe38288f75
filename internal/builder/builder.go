// Package builder wires every component into a running block builder
// process: it owns the builder's identity, constructs the KV/lock/nonce
// substrate and the six pipeline components, and supervises their
// background loops under one errgroup. Each loop logs its errors and keeps
// running, and every loop returns nil, so the group only stops when its
// context is cancelled (teacher convention, cmd/geth-style cooperative
// shutdown — spec.md §5).
package builder

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/chain"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/config"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/feecollection"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/httpapi"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/intake"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/lock"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/logging"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/metrics"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/model"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/nonce"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/posting"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/proposal"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/signature"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/storevault"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/validity"
)

// Identity is the block_builder_id referenced throughout spec.md §5 as
// the attributable owner of every lock this process acquires.
type Identity string

// Builder owns every component of one block builder instance and exposes
// the HTTP handler cmd/blockbuilder serves.
type Builder struct {
	cfg      *config.Config
	identity Identity
	log      logging.Logger

	store      kv.Store
	locks      *lock.Manager
	nonces     *nonce.Manager
	intake     *intake.Intake
	proposals  *proposal.Engine
	signatures *signature.Engine
	posting    *posting.Scheduler
	fees       *feecollection.Engine
	metrics    *metrics.Registry
	http       *httpapi.Server
}

// New constructs every component from cfg. store and chainContract are
// passed in rather than built here so tests can substitute fakes; a
// real process builds them via NewRedisStore/NewRPCContract in
// cmd/blockbuilder.
func New(cfg *config.Config, identity Identity, store kv.Store, chainContract chain.Contract) (*Builder, error) {
	feeSchedule, err := cfg.LoadFeeSchedule()
	if err != nil {
		return nil, err
	}

	locks := lock.New(store, string(identity))
	m := metrics.NewRegistry()
	nonces := nonce.New(store, locks, chainContract).WithMetrics(m)
	keys := kv.NewKeys(cfg.ClusterID)

	v := validity.NewHTTPClient(cfg.ValidityProverBaseURL, cfg.TxTimeout)
	sv := storevault.NewHTTPClient(cfg.StoreVaultBaseURL, cfg.TxTimeout)

	in := intake.New(store, keys, v, sv)
	prop := proposal.New(store, keys, locks, nonces, cfg.BuilderAddress, cfg.AcceptingTxInterval).WithMetrics(m)
	sig := signature.New(store, keys, locks, nonces, cfg.ProposingBlockInterval).WithMetrics(m)
	post := posting.New(store, keys, chainContract, nonces, locks, v, cfg.NonceWaitingTime).WithMetrics(m)

	var fees *feecollection.Engine
	if cfg.UseFee {
		fees = feecollection.New(store, keys, locks, nonces, sv, cfg.ProposingBlockInterval)
		sig = sig.WithFeeScheduler(fees)
		post = post.WithFeeFinalizer(fees)
	}

	httpSrv := httpapi.New(in, prop, sig, feeSchedule, cfg.BuilderAddress)

	return &Builder{
		cfg:        cfg,
		identity:   identity,
		log:        logging.New("component", "builder", "identity", identity),
		store:      store,
		locks:      locks,
		nonces:     nonces,
		intake:     in,
		proposals:  prop,
		signatures: sig,
		posting:    post,
		fees:       fees,
		metrics:    m,
		http:       httpSrv,
	}, nil
}

// Handler returns the HTTP handler cmd/blockbuilder serves.
func (b *Builder) Handler() http.Handler {
	return b.http.Handler(b.cfg.CORSAllowedOrigins)
}

// Run starts the nonce sync loop, both proposal loops, the finalizer,
// the posting scheduler's two consumers, the deposit watcher, and (if
// enabled) the fee-collection loop — all under one errgroup bound to
// ctx, so canceling ctx stops every loop together.
func (b *Builder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { b.nonces.RunSyncLoop(ctx, b.cfg.RestartWaitInterval); return nil })
	g.Go(func() error { b.proposals.Run(ctx, model.Registration); return nil })
	g.Go(func() error { b.proposals.Run(ctx, model.NonRegistration); return nil })
	g.Go(func() error { b.signatures.Run(ctx, b.signatures.PendingBlockIDs); return nil })
	g.Go(func() error { b.posting.RunHi(ctx); return nil })
	g.Go(func() error { b.posting.RunLo(ctx); return nil })
	g.Go(func() error { b.posting.RunDepositWatcher(ctx, b.cfg.DepositCheckInterval); return nil })
	if b.fees != nil {
		g.Go(func() error { b.fees.Run(ctx); return nil })
	}

	b.log.Info("block builder started", "cluster_id", b.cfg.ClusterID)
	return g.Wait()
}
