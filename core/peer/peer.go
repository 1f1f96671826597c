package peer

import (
	"context"
	"errors"
	"sync"

	"github.com/pyropy/dbs/core/channel"
	"github.com/pyropy/dbs/core/chunkstore"
	"github.com/pyropy/dbs/core/metrics"
	"github.com/pyropy/dbs/core/model"
	"github.com/pyropy/dbs/core/protocol"
	"github.com/pyropy/dbs/core/suppression"
	"github.com/pyropy/dbs/lib/cmap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrFileNotBackedUp      = errors.New("file was not backed up by this peer")
	ErrChunkUnavailable     = errors.New("no peer answered for chunk")
	ErrRestoreInProgress    = errors.New("restore of file already in progress")
	ErrRestoreMismatch      = errors.New("restored content does not match the backed up file")
	ErrBackupInProgress     = errors.New("backup of chunk already in progress")
	ErrInvalidReclaimAmount = errors.New("invalid reclaim amount")
)

// Channels are the three multicast groups a peer takes part in.
type Channels struct {
	Control channel.Channel
	Backup  channel.Channel
	Restore channel.Channel
}

func (c Channels) get(kind channel.Kind) channel.Channel {
	switch kind {
	case channel.BackupData:
		return c.Backup
	case channel.RestoreData:
		return c.Restore
	default:
		return c.Control
	}
}

func (c Channels) all() []channel.Channel {
	return []channel.Channel{c.Control, c.Backup, c.Restore}
}

type Option func(*Peer)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *Peer) {
		p.log = log
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Peer) {
		p.metrics = m
	}
}

func WithSuppressor(s *suppression.Suppressor) Option {
	return func(p *Peer) {
		p.suppressor = s
	}
}

// Peer runs the backup, restore, delete and reclaim subprotocols over the
// three channels and owns the local chunk store.
type Peer struct {
	cfg        *Config
	log        *zap.SugaredLogger
	metrics    *metrics.Metrics
	store      *chunkstore.Store
	files      *FileMetadataStore
	channels   Channels
	suppressor *suppression.Suppressor
	tracker    *ReplicationTracker
	monitor    *StorageMonitor

	feeds     cmap.Map[string, *restoreFeed]
	reclaimed cmap.Map[model.ChunkID, struct{}]
	handlers  sync.WaitGroup
}

func NewPeer(cfg *Config, store *chunkstore.Store, files *FileMetadataStore, channels Channels, opts ...Option) *Peer {
	p := &Peer{
		cfg:       cfg,
		store:     store,
		files:     files,
		channels:  channels,
		tracker:   NewReplicationTracker(),
		feeds:     cmap.NewMap[string, *restoreFeed](),
		reclaimed: cmap.NewMap[model.ChunkID, struct{}](),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.log == nil {
		p.log = zap.NewNop().Sugar()
	}

	if p.metrics == nil {
		p.metrics = metrics.New(nil, cfg.Peer.ID)
	}

	if p.suppressor == nil {
		p.suppressor = suppression.New(cfg.Protocol.MaxDelay)
	}

	p.monitor = NewStorageMonitor(store, p.metrics, p.log, cfg.Storage.MonitorInterval)

	return p
}

func (p *Peer) ID() string {
	return p.cfg.Peer.ID
}

// Run starts the receive loop of every channel and the storage monitor, and
// blocks until ctx is done. Handlers still running are waited for.
func (p *Peer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, ch := range p.channels.all() {
		ch := ch
		g.Go(func() error {
			p.log.Infow("channel", "status", "listening", "channel", ch.Kind())
			return ch.Listen(gctx, p.receive(gctx))
		})
	}

	g.Go(func() error {
		p.monitor.Start(gctx)
		return nil
	})

	err := g.Wait()
	p.handlers.Wait()

	return err
}

// send stamps the configured protocol version and multicasts the message.
// Failures are logged and returned; they never stop a receive loop.
func (p *Peer) send(kind channel.Kind, msg *protocol.Message) error {
	msg.Version = p.cfg.Protocol.Version

	if err := p.channels.get(kind).Send(msg.Marshal()); err != nil {
		p.log.Errorw("send", "channel", kind, "type", msg.Type, "file", msg.FileID, "chunk", msg.ChunkNo, "error", err)
		return err
	}

	p.metrics.MessagesSent.WithLabelValues(kind.String(), string(msg.Type)).Inc()
	return nil
}

func (p *Peer) isOwnFile(ctx context.Context, fileID string) bool {
	own, err := p.files.HasFileID(ctx, fileID)
	if err != nil {
		p.log.Errorw("file metadata", "file", fileID, "error", err)
		return false
	}

	return own
}
