package valkeyglide

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"golang.org/x/sync/errgroup"

	"github.com/valkey-io/valkey-glide-sub003/batch"
	"github.com/valkey-io/valkey-glide-sub003/internal/awsauth"
	"github.com/valkey-io/valkey-glide-sub003/internal/azcrc"
	"github.com/valkey-io/valkey-glide-sub003/internal/compressor"
	"github.com/valkey-io/valkey-glide-sub003/internal/conn"
	"github.com/valkey-io/valkey-glide-sub003/internal/iamrefresh"
	"github.com/valkey-io/valkey-glide-sub003/internal/multikey"
	"github.com/valkey-io/valkey-glide-sub003/internal/pipeline"
	"github.com/valkey-io/valkey-glide-sub003/internal/resp"
	"github.com/valkey-io/valkey-glide-sub003/internal/router"
	"github.com/valkey-io/valkey-glide-sub003/internal/stats"
	"github.com/valkey-io/valkey-glide-sub003/internal/topology"
	"github.com/valkey-io/valkey-glide-sub003/pubsub"
	"github.com/valkey-io/valkey-glide-sub003/scan"
)

// Client is the facade wiring the wire codec, connection pool,
// topology manager, router, request pipeline, batch engine, and PubSub
// registry into the single entry point application code uses (spec.md
// §4.12). A connection that closes is dropped from the pool and dialed
// again by the next request for its node; internal/reconnect's
// Supervisor is not used here.
type Client struct {
	cfg ConnectionConfig

	mu       sync.RWMutex
	conns    map[topology.NodeID]*conn.Connection
	closed   bool

	topo     *topology.Manager
	router   *router.Router
	pipe     *pipeline.Pipeline
	batch    *batch.Engine
	pubsub   *pubsub.State
	codec    *compressor.Codec
	scanReg  *scan.Registry
	counters *stats.Counters
	logger   log.Logger

	promHooks *stats.PrometheusHooks
	otelHooks *stats.OTelHooks

	iamCancel context.CancelFunc
}

// NewClient validates cfg, applies defaults, and — unless LazyConnect
// is set — performs at least one successful handshake before returning
// (spec.md §4.12).
func NewClient(ctx context.Context, cfg ConnectionConfig) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	c := &Client{
		cfg:       cfg,
		conns:     make(map[topology.NodeID]*conn.Connection),
		counters:  &stats.Counters{},
		logger:    logger,
		pubsub:    pubsub.NewState(1000),
		scanReg:   scan.NewRegistry(),
		otelHooks: stats.NewOTelHooks(cfg.Tracer, cfg.Meter, cfg.TraceSamplePercent),
	}
	if cfg.MetricsRegisterer != nil {
		c.promHooks = stats.NewPrometheusHooks(cfg.MetricsRegisterer, "client")
	}

	if cfg.Compression.Enabled {
		backend, err := newCompressionBackend(cfg.Compression)
		if err != nil {
			return nil, wrapError(KindConfiguration, err, "invalid compression configuration")
		}
		c.codec = compressor.NewCodec(backend, cfg.Compression.MinCompressionSize, c.counters)
	}

	c.topo = topology.NewManager(c.refreshClusterSlots, cfg.PeriodicCheck.Interval, logger)
	c.router = router.NewRouter(c.topo, cfg.ClientAZ)
	c.pipe = pipeline.New(c.router, c.topo, c.connFor, c.counters)
	c.batch = batch.NewEngine(c.topo, func(ctx context.Context, node topology.NodeID) (batch.Sender, error) {
		return c.connFor(ctx, node)
	}, c.codec)

	if cfg.Credentials.Kind == CredentialsIAM {
		iamCtx, cancel := context.WithCancel(context.Background())
		c.iamCancel = cancel
		gen := iamrefresh.NewAWSGenerator(iamRequestFromCredentials(cfg.Credentials))
		ticker := iamrefresh.NewTicker(gen, int(cfg.Credentials.RefreshInterval.Seconds()), logger)
		go func() {
			if err := ticker.Run(iamCtx); err != nil {
				level.Warn(logger).Log("msg", "IAM refresh loop ended", "err", err)
			}
		}()
	}

	if cfg.ClusterMode {
		if err := c.topo.Refresh(ctx); err != nil && !cfg.LazyConnect {
			return nil, wrapError(KindConnection, err, "initial topology discovery failed")
		}
		c.topo.RunPeriodic(context.Background())
	} else {
		seed := cfg.Addresses[0]
		node := topology.NodeID(fmt.Sprintf("%s:%d", seed.Host, seed.Port))
		c.topo.Install(topology.NewStandaloneMap(node))
	}

	if !cfg.LazyConnect {
		seed := cfg.Addresses[0]
		node := topology.NodeID(fmt.Sprintf("%s:%d", seed.Host, seed.Port))
		if _, err := c.connFor(ctx, node); err != nil {
			return nil, wrapError(KindConnection, err, "initial connection failed")
		}
	}

	return c, nil
}

func newCompressionBackend(cfg CompressionConfig) (compressor.Backend, error) {
	switch cfg.Backend {
	case CompressionLZ4:
		return compressor.NewLZ4Backend(cfg.Level)
	default:
		return compressor.NewZSTDBackend(cfg.Level)
	}
}

func iamRequestFromCredentials(creds Credentials) awsauth.TokenRequest {
	return awsauth.TokenRequest{
		Username:        creds.IAMUsername,
		ClusterName:     creds.ClusterName,
		Service:         creds.Service,
		Region:          creds.Region,
		AccessKeyID:     creds.IAMAccessKeyID,
		SecretAccessKey: creds.IAMSecretKey,
	}
}

// refreshClusterSlots issues CLUSTER SLOTS against any currently known,
// connectable node (or a configured seed if none are up yet).
func (c *Client) refreshClusterSlots(ctx context.Context) (resp.Value, error) {
	node, err := c.anyConnectableNode(ctx)
	if err != nil {
		return resp.Value{}, err
	}
	return node.Send(ctx, resp.EncodeStrings("CLUSTER", "SLOTS"))
}

func (c *Client) anyConnectableNode(ctx context.Context) (*conn.Connection, error) {
	for _, addr := range c.cfg.Addresses {
		node := topology.NodeID(fmt.Sprintf("%s:%d", addr.Host, addr.Port))
		cn, err := c.connFor(ctx, node)
		if err == nil {
			return cn, nil
		}
	}
	return nil, newError(KindConnection, "no configured seed is reachable")
}

// connFor returns a Ready connection for node, dialing and handshaking
// a new one if none is pooled yet.
func (c *Client) connFor(ctx context.Context, node topology.NodeID) (pipeline.Sender, error) {
	c.mu.RLock()
	existing, ok := c.conns[node]
	c.mu.RUnlock()
	if ok && existing.State() != conn.StateClosed {
		return existing, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectionTimeout)
	defer cancel()

	cn, err := conn.Dial(dialCtx, conn.Options{
		Addr:        string(node),
		DialTimeout: c.cfg.ConnectionTimeout,
		TLS:         c.cfg.TLS,
		RESP3:       c.cfg.Protocol == conn.RESP3,
		InflightCap: c.cfg.InflightCap,
		Logger:      c.logger,
	})
	if err != nil {
		return nil, wrapError(KindConnection, err, "dial %s", node)
	}

	hs := c.handshakeConfig()
	if c.cfg.Credentials.Kind == CredentialsIAM {
		token, err := awsauth.GenerateToken(dialCtx, iamRequestFromCredentials(c.cfg.Credentials))
		if err != nil {
			cn.Close()
			return nil, wrapError(KindConnection, err, "generate IAM token for %s", node)
		}
		hs.Username = c.cfg.Credentials.IAMUsername
		hs.Password = token
	}
	if err := cn.Handshake(dialCtx, hs); err != nil {
		return nil, wrapError(KindConnection, err, "handshake %s", node)
	}

	cn.OnPush = func(v resp.Value) {
		if msg, ok := pubsub.MsgFromPush(v); ok {
			c.pubsub.Dispatch(msg)
		}
	}
	cn.OnClosed = func(err error) {
		c.counters.RecordReconnect()
		if c.promHooks != nil {
			c.promHooks.ObserveReconnect()
		}
		c.otelHooks.ObserveReconnect(context.Background())
		c.mu.Lock()
		delete(c.conns, node)
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.conns[node] = cn
	c.mu.Unlock()
	return cn, nil
}

func (c *Client) handshakeConfig() conn.HandshakeConfig {
	var resub []conn.ResubscribeEntry
	for _, e := range c.pubsub.Reconcile() {
		resub = append(resub, conn.ResubscribeEntry{Command: e.Command, Channel: e.Channel})
	}
	cfg := conn.HandshakeConfig{
		Protocol:    c.cfg.Protocol,
		ClientName:  c.cfg.ClientName,
		DBIndex:     c.cfg.DBIndex,
		Resubscribe: resub,
	}
	if c.cfg.Credentials.Kind == CredentialsPassword {
		cfg.Username = c.cfg.Credentials.Username
		cfg.Password = c.cfg.Credentials.Password
	}
	return cfg
}

// Execute is the single entry point for a command: resolve its route,
// dispatch through the pipeline (handling MOVED/ASK redirects), and
// apply the compression read/write policy.
func (c *Client) Execute(ctx context.Context, args []string, firstKey []byte, readOnly bool) (resp.Value, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return resp.Value{}, newError(KindClientClosed, "client is closed")
	}

	dispatchCtx, cancel := pipeline.DeadlineFor(ctx, c.cfg.RequestTimeout)
	defer cancel()

	spanName := "Execute"
	if len(args) > 0 {
		spanName = args[0]
	}
	spanCtx, span := c.otelHooks.StartSpan(dispatchCtx, spanName)
	defer span.End()
	start := time.Now()

	if c.promHooks != nil {
		c.promHooks.ObserveRequest()
	}

	if len(args) > 0 {
		if stride, ok := multikey.Specs[args[0]]; ok {
			if keys := multikey.Keys(args, stride); len(keys) > 1 {
				groups, err := multikey.Split(args[0], args, stride, func(key string) uint16 {
					return azcrc.Slot([]byte(key))
				})
				if err != nil {
					return resp.Value{}, wrapError(KindConfiguration, err, "split multi-key command")
				}
				if len(groups) > 1 {
					reply, err := c.executeMultiKeyGroups(spanCtx, args[0], len(keys), groups, readOnly)
					c.otelHooks.ObserveLatencyMS(spanCtx, float64(time.Since(start).Microseconds())/1000)
					if err != nil {
						if c.promHooks != nil {
							c.promHooks.ObserveError("dispatch")
						}
						return resp.Value{}, err
					}
					return reply, nil
				}
			}
		}
	}

	if c.codec != nil && len(args) > 0 && compressor.IsWriteCompressible(args[0]) {
		if indices := compressor.WriteValueIndices(args[0], len(args)); len(indices) > 0 {
			args = append([]string(nil), args...)
			for _, idx := range indices {
				framed := c.codec.CompressForWrite([]byte(args[idx]))
				if c.promHooks != nil {
					if compressor.HasEnvelope(framed) {
						c.promHooks.ObserveCompressed()
					} else {
						c.promHooks.ObserveSkipped()
					}
				}
				args[idx] = string(framed)
			}
		}
	}

	reply, err := c.pipe.Dispatch(spanCtx, args, firstKey, nil, readOnly, c.cfg.ReadFrom)
	c.otelHooks.ObserveLatencyMS(spanCtx, float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		if c.promHooks != nil {
			c.promHooks.ObserveError("dispatch")
		}
		if dispatchCtx.Err() != nil {
			if c.promHooks != nil {
				c.promHooks.ObserveTimeout()
			}
			return resp.Value{}, wrapError(KindTimeout, err, "request timed out")
		}
		return resp.Value{}, wrapError(KindConnection, err, "request failed")
	}

	if c.codec != nil && len(args) > 0 && compressor.IsReadDecompressible(args[0]) {
		decoded, derr := c.codec.DecompressReply(reply)
		if derr != nil {
			if c.promHooks != nil {
				c.promHooks.ObserveError("decode")
			}
			return resp.Value{}, wrapError(KindDecode, derr, "decompress reply")
		}
		reply = decoded
	}

	return reply, nil
}

// executeMultiKeyGroups dispatches one sub-command per cluster slot group
// for a multi-key command whose keys span more than one slot (spec.md
// §4.6: "MGET, MSET, DEL with mixed slots ... split by slot ... dispatch
// each sub-request ... reassemble in original key order"), then merges
// the per-group replies back into the single reply shape the caller
// expects for cmd.
func (c *Client) executeMultiKeyGroups(ctx context.Context, cmd string, totalKeys int, groups []multikey.Group, readOnly bool) (resp.Value, error) {
	replies := make([]resp.Value, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			groupArgs := group.Args
			if c.codec != nil && compressor.IsWriteCompressible(cmd) {
				if indices := compressor.WriteValueIndices(cmd, len(groupArgs)); len(indices) > 0 {
					groupArgs = append([]string(nil), groupArgs...)
					for _, idx := range indices {
						groupArgs[idx] = string(c.codec.CompressForWrite([]byte(groupArgs[idx])))
					}
				}
			}
			firstKey := []byte(group.Args[1])
			reply, err := c.pipe.Dispatch(gctx, groupArgs, firstKey, nil, readOnly, c.cfg.ReadFrom)
			if err != nil {
				return err
			}
			if reply.IsError() {
				return fmt.Errorf("multikey: %s sub-request failed: %s", cmd, reply.Str)
			}
			if c.codec != nil && compressor.IsReadDecompressible(cmd) {
				decoded, derr := c.codec.DecompressReply(reply)
				if derr != nil {
					return derr
				}
				reply = decoded
			}
			replies[i] = reply
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return resp.Value{}, wrapError(KindConnection, err, "multi-key sub-request failed")
	}

	return mergeMultiKeyReplies(cmd, totalKeys, groups, replies)
}

// mergeMultiKeyReplies reassembles one reply per slot group into the
// single reply a caller of cmd expects: MGET restores original key
// order, DEL/UNLINK/EXISTS/TOUCH sum their integer counts, and
// MSET/MSETNX report success only if every group succeeded (MSETNX loses
// its single-slot atomicity across a cross-slot split — spec.md §4.6 asks
// only for the split and reassembly, not for a distributed-transaction
// rollback the protocol has no primitive for).
func mergeMultiKeyReplies(cmd string, totalKeys int, groups []multikey.Group, replies []resp.Value) (resp.Value, error) {
	switch cmd {
	case "MGET":
		out := make([]resp.Value, totalKeys)
		for gi, group := range groups {
			for pos, keyIdx := range group.KeyIndices {
				if pos >= len(replies[gi].Array) {
					return resp.Value{}, fmt.Errorf("multikey: MGET sub-reply missing element for key %d", keyIdx)
				}
				out[keyIdx] = replies[gi].Array[pos]
			}
		}
		return resp.Value{Type: resp.TypeArray, Array: out}, nil
	case "DEL", "UNLINK", "EXISTS", "TOUCH":
		var sum int64
		for _, r := range replies {
			sum += r.Int
		}
		return resp.Value{Type: resp.TypeInteger, Int: sum}, nil
	case "MSET":
		return resp.Value{Type: resp.TypeSimpleString, Str: "OK"}, nil
	case "MSETNX":
		for _, r := range replies {
			if r.Int == 0 {
				return resp.Value{Type: resp.TypeInteger, Int: 0}, nil
			}
		}
		return resp.Value{Type: resp.TypeInteger, Int: 1}, nil
	default:
		return resp.Value{}, fmt.Errorf("multikey: unsupported command %s", cmd)
	}
}

// ExecAtomic runs a MULTI/WATCH/EXEC transaction against the single shard
// owning every command's key (spec.md §4.8).
func (c *Client) ExecAtomic(ctx context.Context, watch []string, cmds []batch.Command) ([]resp.Value, error) {
	return c.batch.ExecAtomic(ctx, watch, cmds)
}

// ExecNonAtomic runs cmds grouped by owning shard, dispatched in
// parallel, and reassembled in their original order (spec.md §4.8).
func (c *Client) ExecNonAtomic(ctx context.Context, cmds []batch.Command, raiseOnError bool) ([]batch.Result, error) {
	return c.batch.ExecNonAtomic(ctx, cmds, raiseOnError)
}

// NewScanCursor starts a fresh cluster-wide SCAN across every node in the
// current topology (spec.md §4.10).
func (c *Client) NewScanCursor() *scan.Cursor { return c.scanReg.New(c.topo) }

// ResumeScanCursor looks up a previously issued scan cursor by its opaque
// id, for a caller advancing an iteration across separate calls.
func (c *Client) ResumeScanCursor(id string) (*scan.Cursor, bool) { return c.scanReg.Resume(id) }

// ScanNext advances cur by one round, per spec.md §4.10.
func (c *Client) ScanNext(ctx context.Context, cur *scan.Cursor, opts scan.Options) ([][]byte, error) {
	return cur.Next(ctx, c.topo, func(ctx context.Context, node topology.NodeID) (scan.Sender, error) {
		return c.connFor(ctx, node)
	}, opts)
}

// Stats returns a point-in-time snapshot of the client's counters.
func (c *Client) Stats() stats.Snapshot { return c.counters.Snapshot() }

// PubSub exposes the subscription registry's pull/status API.
func (c *Client) PubSub() *pubsub.State { return c.pubsub }

// Close marks every connection Draining and waits the full graceDeadline
// so in-flight requests can complete, then tears down every connection
// (failing any request still pending) and stops background tasks
// (spec.md §4.12).
func (c *Client) Close(graceDeadline time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conns := make([]*conn.Connection, 0, len(c.conns))
	for _, cn := range c.conns {
		conns = append(conns, cn)
	}
	c.mu.Unlock()

	for _, cn := range conns {
		cn.Drain()
	}
	time.Sleep(graceDeadline)
	for _, cn := range conns {
		cn.Close()
	}

	c.topo.Stop()
	if c.iamCancel != nil {
		c.iamCancel()
	}
	return nil
}
