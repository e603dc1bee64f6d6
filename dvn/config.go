package dvn

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nori-zk/dvn-worker/core/types"
	"github.com/nori-zk/dvn-worker/dvn/archive"
	"github.com/nori-zk/dvn-worker/dvn/finality"
	"github.com/nori-zk/dvn-worker/dvn/listener"
	"github.com/nori-zk/dvn-worker/dvn/relay"
	"github.com/nori-zk/dvn-worker/dvn/submit"
	"github.com/nori-zk/dvn-worker/dvn/zkproof"
	"github.com/nori-zk/dvn-worker/internal/tracing"
)

// ConfigError is a fatal configuration problem detected at startup.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("invalid config %s: %v", e.Field, e.Err) }

func (e *ConfigError) Unwrap() error { return e.Err }

var (
	errRequired = errors.New("required")
	errBadURL   = errors.New("not a valid http(s) or ws(s) url")
)

// PipelineConfig tunes scheduling and retries.
type PipelineConfig struct {
	MaxConcurrency int           `toml:"max_concurrency"`
	MaxAttempts    uint64        `toml:"max_attempts"` // 0 = unlimited
	RetryBase      time.Duration `toml:"retry_base"`
	RetryMax       time.Duration `toml:"retry_max"`
	SubmitTimeout  time.Duration `toml:"submit_timeout"`
}

// Config is the full worker configuration as loaded from TOML, env and
// flags.
type Config struct {
	Mode      types.Mode       `toml:"mode"`
	DataDir   string           `toml:"datadir"`
	AdminAddr string           `toml:"admin_addr"`
	DestRPC   string           `toml:"dest_rpc"`
	Endpoints []common.Address `toml:"endpoints"` // source emitters
	DstEid    uint32           `toml:"dst_eid"`   // 0 disables the filter
	SignerKey string           `toml:"-"`

	Pipeline PipelineConfig  `toml:"pipeline"`
	Listener listener.Config `toml:"listener"`
	Finality finality.Config `toml:"finality"`
	Relay    relay.Config    `toml:"relay"`
	Proof    zkproof.Config  `toml:"proof"`
	Submit   submit.Config   `toml:"submit"`
	Archive  archive.Config  `toml:"archive"`
	Tracing  tracing.Config  `toml:"tracing"`
}

func DefaultConfig() Config {
	return Config{
		Mode:    types.ModeStrict,
		DataDir: "./dvn-data",
		DestRPC: "http://127.0.0.1:8546",
		Pipeline: PipelineConfig{
			MaxConcurrency: 16,
			MaxAttempts:    20,
			RetryBase:      5 * time.Second,
			RetryMax:       5 * time.Minute,
			SubmitTimeout:  10 * time.Minute,
		},
		Listener: listener.DefaultConfig(),
		Finality: finality.DefaultConfig(),
		Relay:    relay.DefaultConfig(),
		Proof:    zkproof.DefaultConfig(),
		Submit:   submit.DefaultConfig(),
		Archive:  archive.DefaultConfig(),
		Tracing:  tracing.DefaultConfig(),
	}
}

// Validate checks the configuration and returns a *ConfigError for the
// first problem found.
func (c *Config) Validate() error {
	if _, err := types.ParseMode(string(c.Mode)); err != nil {
		return &ConfigError{Field: "mode", Err: err}
	}
	if err := checkURL(c.Listener.URL, true); err != nil {
		return &ConfigError{Field: "listener.url", Err: err}
	}
	if err := checkURL(c.DestRPC, true); err != nil {
		return &ConfigError{Field: "dest_rpc", Err: err}
	}
	if err := checkURL(c.Relay.URL, false); err != nil {
		return &ConfigError{Field: "relay.url", Err: err}
	}
	if c.Proof.URL == "" {
		if !c.Mode.Degraded() {
			return &ConfigError{Field: "proof.url", Err: zkproof.ErrNoService}
		}
	} else if err := checkURL(c.Proof.URL, false); err != nil {
		return &ConfigError{Field: "proof.url", Err: err}
	}
	if c.Submit.Contract == (common.Address{}) {
		return &ConfigError{Field: "submit.contract", Err: errRequired}
	}
	if len(c.Endpoints) == 0 {
		return &ConfigError{Field: "endpoints", Err: errRequired}
	}
	if strings.TrimSpace(c.SignerKey) == "" {
		return &ConfigError{Field: "signer key", Err: errRequired}
	}
	if _, err := listener.ParseFromBlock(c.Listener.FromBlock); err != nil {
		return &ConfigError{Field: "listener.from_block", Err: err}
	}
	if c.Finality.Threshold == 0 {
		return &ConfigError{Field: "finality.confirmations", Err: errors.New("must be positive")}
	}
	if c.Submit.GasLimit == 0 {
		return &ConfigError{Field: "submit.gas_limit", Err: errors.New("must be positive")}
	}
	if c.Pipeline.MaxConcurrency <= 0 {
		return &ConfigError{Field: "pipeline.max_concurrency", Err: errors.New("must be positive")}
	}
	if c.Pipeline.RetryBase <= 0 || c.Pipeline.RetryMax < c.Pipeline.RetryBase {
		return &ConfigError{Field: "pipeline.retry_base", Err: errors.New("must be positive and not above retry_max")}
	}
	return nil
}

func checkURL(raw string, allowWS bool) error {
	if raw == "" {
		return errRequired
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http", "https":
	case "ws", "wss":
		if !allowWS {
			return errBadURL
		}
	default:
		return errBadURL
	}
	if u.Host == "" {
		return errBadURL
	}
	return nil
}
