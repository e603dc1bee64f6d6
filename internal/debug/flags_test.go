package debug

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func runSetup(t *testing.T, args ...string) error {
	t.Helper()
	prev := log.Root()
	t.Cleanup(func() {
		Exit()
		log.SetDefault(prev)
	})
	app := &cli.App{
		Flags: Flags,
		Action: func(ctx *cli.Context) error {
			if err := Setup(ctx); err != nil {
				return err
			}
			log.Info("Hello", "packet", "0x01")
			log.Debug("Hidden at info verbosity")
			return nil
		},
	}
	return app.Run(append([]string{"dvnworker"}, args...))
}

func TestSetupJSONFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "dvn.log")
	require.NoError(t, runSetup(t, "--log.format", "json", "--log.file", file))
	Exit()

	blob, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(blob)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "Hello", rec["msg"])
	require.Equal(t, "0x01", rec["packet"])
}

func TestSetupVerbosity(t *testing.T) {
	file := filepath.Join(t.TempDir(), "dvn.log")
	require.NoError(t, runSetup(t, "--log.format", "logfmt", "--log.file", file, "--verbosity", "5"))
	Exit()

	blob, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Contains(t, string(blob), "Hidden at info verbosity")
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	require.ErrorContains(t, runSetup(t, "--log.format", "xml"), "unknown log format")
}
