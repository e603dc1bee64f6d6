// checkbalance prints the signer's balance and nonces on the configured
// chains.
package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/nori-zk/dvn-worker/cmd/utils"
	"github.com/nori-zk/dvn-worker/dvn"
	"github.com/nori-zk/dvn-worker/dvn/submit"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// accountReader is the part of ethclient used here.
type accountReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type row struct {
	chain   string
	chainID *big.Int
	balance *big.Int
	nonce   uint64
	pending uint64
}

func main() {
	if err := utils.LoadEnv(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load env file:", err)
		os.Exit(1)
	}
	app := &cli.App{
		Name:   "checkbalance",
		Usage:  "print the DVN signer balance on the source and destination chains",
		Flags:  utils.ChainFlags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := utils.LoadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.SignerKey == "" {
		return &dvn.ConfigError{Field: "signer key", Err: fmt.Errorf("required")}
	}
	key, err := submit.ParsePrivateKey(cfg.SignerKey)
	if err != nil {
		return &dvn.ConfigError{Field: "signer key", Err: err}
	}
	account := crypto.PubkeyToAddress(key.PublicKey)

	endpoints := []struct{ name, url string }{
		{"source", cfg.Listener.URL},
		{"destination", cfg.DestRPC},
	}
	rows := make([]row, len(endpoints))
	g, gctx := errgroup.WithContext(ctx.Context)
	for i, ep := range endpoints {
		g.Go(func() error {
			client, err := ethclient.DialContext(gctx, ep.url)
			if err != nil {
				return fmt.Errorf("dial %s chain: %w", ep.name, err)
			}
			defer client.Close()
			r, err := readAccount(gctx, client, account)
			if err != nil {
				return fmt.Errorf("%s chain: %w", ep.name, err)
			}
			r.chain = ep.name
			rows[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "Signer %s\n", account.Hex())
	render(ctx.App.Writer, rows)
	return nil
}

func readAccount(ctx context.Context, client accountReader, account common.Address) (row, error) {
	var (
		r   row
		err error
	)
	if r.chainID, err = client.ChainID(ctx); err != nil {
		return r, err
	}
	if r.balance, err = client.BalanceAt(ctx, account, nil); err != nil {
		return r, err
	}
	if r.nonce, err = client.NonceAt(ctx, account, nil); err != nil {
		return r, err
	}
	if r.pending, err = client.PendingNonceAt(ctx, account); err != nil {
		return r, err
	}
	return r, nil
}

// formatEther renders wei as ether with up to 6 decimals.
func formatEther(wei *big.Int) string {
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether))
	return f.Text('f', 6)
}

func render(w io.Writer, rows []row) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Chain", "Chain ID", "Balance (ETH)", "Balance (wei)", "Nonce", "Pending"})
	for _, r := range rows {
		table.Append([]string{
			r.chain,
			r.chainID.String(),
			formatEther(r.balance),
			r.balance.String(),
			strconv.FormatUint(r.nonce, 10),
			strconv.FormatUint(r.pending, 10),
		})
	}
	table.Render()
}
