// Package utils contains the command line flags and configuration loading
// shared by the dvn commands.
package utils

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"
	"github.com/nori-zk/dvn-worker/core/types"
	"github.com/nori-zk/dvn-worker/dvn"
	"github.com/urfave/cli/v2"
)

const (
	chainCategory   = "CHAIN"
	serviceCategory = "SERVICES"
	workerCategory  = "WORKER"
	archiveCategory = "ARCHIVE"
)

var (
	ConfigFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	EnvFileFlag = &cli.StringFlag{
		Name:  "env",
		Usage: "Dotenv file loaded before flags are evaluated",
		Value: ".env",
	}

	// Chains
	SourceRPCFlag = &cli.StringFlag{
		Name:     "src.rpc",
		Usage:    "Source chain RPC endpoint (ws:// subscribes, http:// polls)",
		Value:    "http://127.0.0.1:8545",
		EnvVars:  []string{"ETH_RPC_URL"},
		Category: chainCategory,
	}
	SourceEndpointFlag = &cli.StringSliceFlag{
		Name:     "src.endpoint",
		Usage:    "Source endpoint contract address(es) emitting PacketSent",
		EnvVars:  []string{"LAYERZERO_ENDPOINT_ETH"},
		Category: chainCategory,
	}
	FromBlockFlag = &cli.StringFlag{
		Name:     "src.from",
		Usage:    `First source block to scan ("latest" resumes from the stored cursor)`,
		Value:    "latest",
		EnvVars:  []string{"FROM_BLOCK"},
		Category: chainCategory,
	}
	ConfirmationsFlag = &cli.Uint64Flag{
		Name:     "confirmations",
		Usage:    "Source confirmations before a packet is final",
		Value:    64,
		EnvVars:  []string{"CONFIRMATIONS"},
		Category: chainCategory,
	}
	DestRPCFlag = &cli.StringFlag{
		Name:     "dst.rpc",
		Usage:    "Destination chain RPC endpoint",
		Value:    "http://127.0.0.1:8546",
		EnvVars:  []string{"DEST_RPC_URL"},
		Category: chainCategory,
	}
	DstEidFlag = &cli.UintFlag{
		Name:     "dst.eid",
		Usage:    "Only verify packets for this destination endpoint id (0 accepts all)",
		EnvVars:  []string{"DST_EID"},
		Category: chainCategory,
	}
	DVNAddressFlag = &cli.StringFlag{
		Name:     "dvn.address",
		Usage:    "Destination DVN contract address",
		EnvVars:  []string{"DVN_ADDRESS"},
		Category: chainCategory,
	}
	SignerKeyFlag = &cli.StringFlag{
		Name:     "signer.key",
		Usage:    "Hex private key of the destination signer",
		EnvVars:  []string{"PRIVATE_KEY"},
		Category: chainCategory,
	}

	// Services
	RelayURLFlag = &cli.StringFlag{
		Name:     "relay.url",
		Usage:    "Attestation aggregator URL",
		Value:    "http://127.0.0.1:8082",
		EnvVars:  []string{"RELAY_AGGREGATOR_URL"},
		Category: serviceCategory,
	}
	ProofURLFlag = &cli.StringFlag{
		Name:     "proof.url",
		Usage:    "Proof service URL",
		EnvVars:  []string{"GOLEM_DB_URL", "PROOF_SERVICE_URL"},
		Category: serviceCategory,
	}
	ModeFlag = &cli.StringFlag{
		Name:     "mode",
		Usage:    `Service failure handling: "strict" or "degraded" (placeholders, test deployments only)`,
		Value:    string(types.ModeStrict),
		EnvVars:  []string{"DVN_MODE"},
		Category: serviceCategory,
	}
	TracingEndpointFlag = &cli.StringFlag{
		Name:     "tracing.endpoint",
		Usage:    "OTLP gRPC endpoint for traces (empty disables tracing)",
		EnvVars:  []string{"OTLP_ENDPOINT"},
		Category: serviceCategory,
	}

	// Worker
	DataDirFlag = &cli.StringFlag{
		Name:     "datadir",
		Usage:    "Directory for packet state and the listener cursor (empty keeps state in memory)",
		Value:    "./dvn-data",
		EnvVars:  []string{"DATA_DIR"},
		Category: workerCategory,
	}
	AdminAddrFlag = &cli.StringFlag{
		Name:     "admin.addr",
		Usage:    "Listen address of the admin and metrics API (empty disables it)",
		EnvVars:  []string{"ADMIN_ADDR"},
		Category: workerCategory,
	}
	ConcurrencyFlag = &cli.IntFlag{
		Name:     "pipeline.concurrency",
		Usage:    "Maximum number of packets processed concurrently",
		Value:    16,
		Category: workerCategory,
	}
	MaxAttemptsFlag = &cli.Uint64Flag{
		Name:     "pipeline.maxattempts",
		Usage:    "Transient failures tolerated per packet before it fails (0 = unlimited)",
		Value:    20,
		Category: workerCategory,
	}

	// Archive
	ArchiveKVFlag = &cli.StringFlag{
		Name:     "archive.kv",
		Usage:    "Directory of the local proof bundle archive",
		EnvVars:  []string{"ARCHIVE_KV_DIR"},
		Category: archiveCategory,
	}
	ArchiveS3BucketFlag = &cli.StringFlag{
		Name:     "archive.s3.bucket",
		Usage:    "S3 bucket receiving proof bundles (credentials from the AWS environment)",
		EnvVars:  []string{"ARCHIVE_S3_BUCKET"},
		Category: archiveCategory,
	}
	ArchiveS3EndpointFlag = &cli.StringFlag{
		Name:     "archive.s3.endpoint",
		Usage:    "S3 compatible endpoint URL (static keys from ARCHIVE_S3_ACCESS_KEY_ID/ARCHIVE_S3_SECRET_ACCESS_KEY)",
		EnvVars:  []string{"ARCHIVE_S3_ENDPOINT"},
		Category: archiveCategory,
	}
	ArchiveAzureContainerFlag = &cli.StringFlag{
		Name:     "archive.azure.container",
		Usage:    "Azure blob container receiving proof bundles (AZURE_STORAGE_CONNECTION_STRING)",
		EnvVars:  []string{"ARCHIVE_AZURE_CONTAINER"},
		Category: archiveCategory,
	}
)

// ChainFlags are the flags needed to reach both chains with the signer.
var ChainFlags = []cli.Flag{
	ConfigFileFlag,
	EnvFileFlag,
	SourceRPCFlag,
	DestRPCFlag,
	SignerKeyFlag,
}

// WorkerFlags are all flags of the worker command.
var WorkerFlags = []cli.Flag{
	ConfigFileFlag,
	EnvFileFlag,
	SourceRPCFlag,
	SourceEndpointFlag,
	FromBlockFlag,
	ConfirmationsFlag,
	DestRPCFlag,
	DstEidFlag,
	DVNAddressFlag,
	SignerKeyFlag,
	RelayURLFlag,
	ProofURLFlag,
	ModeFlag,
	TracingEndpointFlag,
	DataDirFlag,
	AdminAddrFlag,
	ConcurrencyFlag,
	MaxAttemptsFlag,
	ArchiveKVFlag,
	ArchiveS3BucketFlag,
	ArchiveS3EndpointFlag,
	ArchiveAzureContainerFlag,
}

// LoadEnv loads the dotenv file named by --env into the process
// environment. Variables already set take precedence. A missing default
// file is not an error.
func LoadEnv(args []string) error {
	path := EnvFileFlag.Value
	for i, arg := range args {
		switch {
		case arg == "--env" || arg == "-env":
			if i+1 < len(args) {
				path = args[i+1]
			}
		case strings.HasPrefix(arg, "--env="):
			path = strings.TrimPrefix(arg, "--env=")
		}
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) && path == EnvFileFlag.Value {
		return nil
	}
	return err
}

// LoadConfig assembles the worker configuration: defaults, then the TOML
// file, then flags and environment variables.
func LoadConfig(ctx *cli.Context) (dvn.Config, error) {
	cfg := dvn.DefaultConfig()
	if file := ctx.String(ConfigFileFlag.Name); file != "" {
		md, err := toml.DecodeFile(file, &cfg)
		if err != nil {
			return cfg, &dvn.ConfigError{Field: "config", Err: err}
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			log.Warn("Unknown configuration keys", "file", file, "keys", undecoded)
		}
	}
	setString(ctx, SourceRPCFlag, &cfg.Listener.URL)
	setString(ctx, FromBlockFlag, &cfg.Listener.FromBlock)
	setString(ctx, DestRPCFlag, &cfg.DestRPC)
	setString(ctx, RelayURLFlag, &cfg.Relay.URL)
	setString(ctx, ProofURLFlag, &cfg.Proof.URL)
	setString(ctx, TracingEndpointFlag, &cfg.Tracing.Endpoint)
	setString(ctx, DataDirFlag, &cfg.DataDir)
	setString(ctx, AdminAddrFlag, &cfg.AdminAddr)
	setString(ctx, ArchiveKVFlag, &cfg.Archive.KVDir)
	setString(ctx, ArchiveS3BucketFlag, &cfg.Archive.S3Bucket)
	setString(ctx, ArchiveS3EndpointFlag, &cfg.Archive.S3Endpoint)
	setString(ctx, ArchiveAzureContainerFlag, &cfg.Archive.AzureContainer)
	setString(ctx, SignerKeyFlag, &cfg.SignerKey)

	if ctx.IsSet(ModeFlag.Name) {
		mode, err := types.ParseMode(ctx.String(ModeFlag.Name))
		if err != nil {
			return cfg, &dvn.ConfigError{Field: "mode", Err: err}
		}
		cfg.Mode = mode
	}
	if ctx.IsSet(DVNAddressFlag.Name) {
		addr, err := parseAddress(ctx.String(DVNAddressFlag.Name))
		if err != nil {
			return cfg, &dvn.ConfigError{Field: "dvn.address", Err: err}
		}
		cfg.Submit.Contract = addr
	}
	if ctx.IsSet(SourceEndpointFlag.Name) {
		cfg.Endpoints = cfg.Endpoints[:0]
		for _, raw := range ctx.StringSlice(SourceEndpointFlag.Name) {
			addr, err := parseAddress(raw)
			if err != nil {
				return cfg, &dvn.ConfigError{Field: "src.endpoint", Err: err}
			}
			cfg.Endpoints = append(cfg.Endpoints, addr)
		}
	}
	if ctx.IsSet(ConfirmationsFlag.Name) {
		cfg.Finality.Threshold = ctx.Uint64(ConfirmationsFlag.Name)
	}
	if ctx.IsSet(DstEidFlag.Name) {
		cfg.DstEid = uint32(ctx.Uint(DstEidFlag.Name))
	}
	if ctx.IsSet(ConcurrencyFlag.Name) {
		cfg.Pipeline.MaxConcurrency = ctx.Int(ConcurrencyFlag.Name)
	}
	if ctx.IsSet(MaxAttemptsFlag.Name) {
		cfg.Pipeline.MaxAttempts = ctx.Uint64(MaxAttemptsFlag.Name)
	}
	if cs := os.Getenv("AZURE_STORAGE_CONNECTION_STRING"); cs != "" {
		cfg.Archive.AzureConnectionString = cs
	}
	cfg.Archive.S3AccessKeyID = os.Getenv("ARCHIVE_S3_ACCESS_KEY_ID")
	cfg.Archive.S3SecretAccessKey = os.Getenv("ARCHIVE_S3_SECRET_ACCESS_KEY")
	return cfg, nil
}

func setString(ctx *cli.Context, flag *cli.StringFlag, dst *string) {
	if ctx.IsSet(flag.Name) {
		*dst = ctx.String(flag.Name)
	}
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}
