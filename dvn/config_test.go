package dvn

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nori-zk/dvn-worker/core/types"
	"github.com/nori-zk/dvn-worker/dvn/zkproof"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Listener.URL = "ws://127.0.0.1:8545"
	cfg.Relay.URL = "http://127.0.0.1:8082"
	cfg.Proof.URL = "http://127.0.0.1:8090"
	cfg.Submit.Contract = common.HexToAddress("0x01")
	cfg.Endpoints = []common.Address{common.HexToAddress("0x02")}
	cfg.SignerKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		field  string
		mutate func(*Config)
	}{
		{"mode", func(c *Config) { c.Mode = "lenient" }},
		{"listener.url", func(c *Config) { c.Listener.URL = "" }},
		{"listener.url", func(c *Config) { c.Listener.URL = "ftp://node" }},
		{"dest_rpc", func(c *Config) { c.DestRPC = "localhost:8546" }},
		{"relay.url", func(c *Config) { c.Relay.URL = "ws://relay" }},
		{"proof.url", func(c *Config) { c.Proof.URL = "" }},
		{"submit.contract", func(c *Config) { c.Submit.Contract = common.Address{} }},
		{"endpoints", func(c *Config) { c.Endpoints = nil }},
		{"signer key", func(c *Config) { c.SignerKey = " " }},
		{"listener.from_block", func(c *Config) { c.Listener.FromBlock = "earliest" }},
		{"finality.confirmations", func(c *Config) { c.Finality.Threshold = 0 }},
		{"submit.gas_limit", func(c *Config) { c.Submit.GasLimit = 0 }},
		{"pipeline.max_concurrency", func(c *Config) { c.Pipeline.MaxConcurrency = 0 }},
		{"pipeline.retry_base", func(c *Config) { c.Pipeline.RetryMax = c.Pipeline.RetryBase / 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr), "got %v", err)
			require.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestConfigProofURLOptionalWhenDegraded(t *testing.T) {
	cfg := validConfig()
	cfg.Proof.URL = ""
	require.ErrorIs(t, cfg.Validate(), zkproof.ErrNoService)

	cfg.Mode = types.ModeDegraded
	require.NoError(t, cfg.Validate())
}
