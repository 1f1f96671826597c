package peer

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/pyropy/dbs/core/model"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Peer struct {
		ID      string `envconfig:"PEER_ID"`
		DataDir string `envconfig:"PEER_DATA_DIR" default:"data"`
	}
	Server struct {
		RPCAddr     string `envconfig:"RPC_ADDR" default:"localhost:1099"`
		MetricsAddr string `envconfig:"METRICS_ADDR"`
	}
	Multicast struct {
		Control    string `envconfig:"MC_ADDR" default:"224.0.0.1:8000"`
		Backup     string `envconfig:"MDB_ADDR" default:"224.0.0.1:8001"`
		Restore    string `envconfig:"MDR_ADDR" default:"224.0.0.1:8002"`
		SenderPort int    `envconfig:"SENDER_PORT" default:"8010"`
		TTL        int    `envconfig:"MULTICAST_TTL" default:"1"`
		Loopback   bool   `envconfig:"MULTICAST_LOOPBACK" default:"true"`
		Interface  string `envconfig:"MULTICAST_INTERFACE"`
	}
	Protocol struct {
		Version           string        `envconfig:"PROTOCOL_VERSION" default:"1.0"`
		MaxDelay          time.Duration `envconfig:"MAX_DELAY" default:"400ms"`
		BackupTimeout     time.Duration `envconfig:"BACKUP_TIMEOUT" default:"1s"`
		BackupAttempts    int           `envconfig:"BACKUP_ATTEMPTS" default:"5"`
		BackupConcurrency int           `envconfig:"BACKUP_CONCURRENCY" default:"4"`
		RestoreTimeout    time.Duration `envconfig:"RESTORE_TIMEOUT" default:"1s"`
		RestoreAttempts   int           `envconfig:"RESTORE_ATTEMPTS" default:"3"`
		DeleteRepeats     int           `envconfig:"DELETE_REPEATS" default:"3"`
		ChunkSize         int           `envconfig:"CHUNK_SIZE" default:"64000"`
	}
	Storage struct {
		CapacityKB      int64         `envconfig:"STORAGE_CAPACITY_KB" default:"0"`
		MonitorInterval time.Duration `envconfig:"MONITOR_INTERVAL" default:"10s"`
	}
}

func GetConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Peer.ID == "" {
		cfg.Peer.ID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the protocol limits that a peer cannot work without.
func (c *Config) Validate() error {
	if c.Protocol.ChunkSize <= 0 || c.Protocol.ChunkSize > model.MaxChunkSize {
		return fmt.Errorf("%w: chunk size %d not in 1..%d", ErrInvalidConfig, c.Protocol.ChunkSize, model.MaxChunkSize)
	}

	if c.Protocol.BackupAttempts < 1 || c.Protocol.RestoreAttempts < 1 || c.Protocol.DeleteRepeats < 1 {
		return fmt.Errorf("%w: attempts and repeats must be positive", ErrInvalidConfig)
	}

	if c.Protocol.BackupConcurrency < 1 {
		return fmt.Errorf("%w: backup concurrency must be positive", ErrInvalidConfig)
	}

	if c.Protocol.MaxDelay < 0 || c.Protocol.BackupTimeout <= 0 || c.Protocol.RestoreTimeout <= 0 {
		return fmt.Errorf("%w: delays and timeouts must be positive", ErrInvalidConfig)
	}

	// Peers are known to each other by their sending port, so it must be
	// fixed for mirror sets to survive a restart.
	if c.Multicast.SenderPort <= 0 || c.Multicast.SenderPort > 65535 {
		return fmt.Errorf("%w: sender port %d not in 1..65535", ErrInvalidConfig, c.Multicast.SenderPort)
	}

	if c.Storage.CapacityKB < 0 {
		return fmt.Errorf("%w: negative storage capacity", ErrInvalidConfig)
	}

	return nil
}

// CapacityBytes returns the storage limit in bytes, zero meaning unlimited.
func (c *Config) CapacityBytes() int64 {
	return c.Storage.CapacityKB * 1024
}
