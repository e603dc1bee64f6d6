package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/nori-zk/dvn-worker/cmd/utils"
	"github.com/nori-zk/dvn-worker/core/types"
	"github.com/nori-zk/dvn-worker/dvn"
	"github.com/nori-zk/dvn-worker/dvn/store"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

var (
	replayCommand = &cli.Command{
		Name:      "replay",
		Usage:     "Flag failed packets for another verification attempt",
		ArgsUsage: "<packetId> [packetId...]",
		Flags:     []cli.Flag{utils.DataDirFlag},
		Description: `
Marks Failed packets in the state directory for replay. The worker resumes
them on its next start. A running worker holds the directory lock; use its
admin API (POST /packets/{id}/replay) instead.`,
		Action: replay,
	}
	stateFlag = &cli.StringFlag{
		Name:  "state",
		Usage: "Only list packets in this state (e.g. failed)",
	}
	statusCommand = &cli.Command{
		Name:      "status",
		Usage:     "Print the stored packet states",
		ArgsUsage: "[packetId...]",
		Flags:     []cli.Flag{utils.DataDirFlag, stateFlag},
		Action:    status,
	}
	olderThanFlag = &cli.DurationFlag{
		Name:  "older-than",
		Usage: "Remove terminal packets last updated before this age",
		Value: 7 * 24 * time.Hour,
	}
	pruneCommand = &cli.Command{
		Name:      "prune",
		Usage:     "Remove old Confirmed and Failed packets from the state directory",
		ArgsUsage: "[packetId...]",
		Flags:     []cli.Flag{utils.DataDirFlag, olderThanFlag},
		Description: `
Without arguments, removes every terminal packet last updated before
--older-than. With packet ids, removes exactly those packets, which must be
terminal. Pruned packets are forgotten: a re-emitted event for one of them
is tracked again as new.`,
		Action: prune,
	}
)

func openStore(ctx *cli.Context) (*store.Store, error) {
	dir := ctx.String(utils.DataDirFlag.Name)
	if dir == "" {
		return nil, &dvn.ConfigError{Field: "datadir", Err: errors.New("required")}
	}
	return store.Open(dir, dbCache, dbHandles)
}

func parseIDs(args cli.Args) ([]common.Hash, error) {
	ids := make([]common.Hash, 0, args.Len())
	for _, arg := range args.Slice() {
		b, err := hexutil.Decode(arg)
		if err != nil || len(b) != common.HashLength {
			return nil, fmt.Errorf("invalid packet id %q", arg)
		}
		ids = append(ids, common.BytesToHash(b))
	}
	return ids, nil
}

func replay(ctx *cli.Context) error {
	ids, err := parseIDs(ctx.Args())
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.New("no packet id given")
	}
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	var failed int
	for _, id := range ids {
		ps, err := db.Packet(id)
		if err == nil {
			err = dvn.RequestReplay(ps, time.Now())
		}
		if err == nil {
			err = db.PutPacket(ps)
		}
		if err != nil {
			failed++
			fmt.Fprintf(ctx.App.ErrWriter, "%s: %v\n", id, err)
			continue
		}
		fmt.Fprintf(ctx.App.Writer, "%s: replay requested\n", id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d packets not flagged", failed, len(ids))
	}
	return nil
}

func prune(ctx *cli.Context) error {
	ids, err := parseIDs(ctx.Args())
	if err != nil {
		return err
	}
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(ids) == 0 {
		cutoff := time.Now().Add(-ctx.Duration(olderThanFlag.Name))
		n, err := db.PrunePackets(func(ps *types.PacketState) bool {
			return ps.UpdatedAt.After(cutoff)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "pruned %d packets\n", n)
		return nil
	}
	for _, id := range ids {
		ps, err := db.Packet(id)
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		if !ps.State.Terminal() {
			return fmt.Errorf("%s: packet is %s", id, ps.State)
		}
		if err := db.DeletePacket(id); err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "%s: pruned\n", id)
	}
	return nil
}

func status(ctx *cli.Context) error {
	ids, err := parseIDs(ctx.Args())
	if err != nil {
		return err
	}
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	var states []*types.PacketState
	if len(ids) > 0 {
		for _, id := range ids {
			ps, err := db.Packet(id)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			states = append(states, ps)
		}
	} else {
		filter := ctx.String(stateFlag.Name)
		err := db.IteratePackets(func(ps *types.PacketState) error {
			if filter == "" || ps.State.String() == filter {
				states = append(states, ps)
			}
			return nil
		})
		if err != nil {
			return err
		}
		sort.Slice(states, func(i, j int) bool {
			return states[i].UpdatedAt.After(states[j].UpdatedAt)
		})
	}
	writeStates(ctx.App.Writer, states)
	return nil
}

func writeStates(w io.Writer, states []*types.PacketState) {
	if w == nil {
		w = os.Stdout
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Packet", "Block", "State", "Attempts", "Stage", "Tx", "Error", "Updated"})
	table.SetAutoWrapText(false)
	for _, ps := range states {
		var stage, tx, updated string
		if ps.LastError != "" {
			stage = ps.Stage.String()
		}
		if ps.TxHash != (common.Hash{}) {
			tx = ps.TxHash.TerminalString()
		}
		if !ps.UpdatedAt.IsZero() {
			updated = ps.UpdatedAt.UTC().Format(time.RFC3339)
		}
		table.Append([]string{
			ps.Packet.ID.Hex(),
			strconv.FormatUint(ps.Packet.BlockNumber, 10),
			ps.State.String(),
			strconv.FormatUint(ps.Attempts, 10),
			stage,
			tx,
			ps.LastError,
			updated,
		})
	}
	table.SetFooter([]string{"", "", "", "", "", "", "Total", strconv.Itoa(len(states))})
	table.Render()
}
