// Package debug configures the process-wide logger from command line flags.
package debug

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

const loggingCategory = "LOGGING AND DEBUGGING"

var (
	VerbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value:    3,
		EnvVars:  []string{"DVN_VERBOSITY"},
		Category: loggingCategory,
	}
	VmoduleFlag = &cli.StringFlag{
		Name:     "log.vmodule",
		Usage:    "Per-module verbosity: comma-separated list of <pattern>=<level> (e.g. dvn/*=5)",
		Category: loggingCategory,
	}
	LogFormatFlag = &cli.StringFlag{
		Name:     "log.format",
		Usage:    "Log format to use (json|logfmt|terminal)",
		EnvVars:  []string{"DVN_LOG_FORMAT"},
		Category: loggingCategory,
	}
	LogFileFlag = &cli.StringFlag{
		Name:     "log.file",
		Usage:    "Write logs to a file",
		Category: loggingCategory,
	}
	LogRotateFlag = &cli.BoolFlag{
		Name:     "log.rotate",
		Usage:    "Enables log file rotation",
		Category: loggingCategory,
	}
	LogMaxSizeMBsFlag = &cli.IntFlag{
		Name:     "log.maxsize",
		Usage:    "Maximum size in MBs of a single log file",
		Value:    100,
		Category: loggingCategory,
	}
	LogMaxBackupsFlag = &cli.IntFlag{
		Name:     "log.maxbackups",
		Usage:    "Maximum number of log files to retain",
		Value:    10,
		Category: loggingCategory,
	}
	LogMaxAgeFlag = &cli.IntFlag{
		Name:     "log.maxage",
		Usage:    "Maximum number of days to retain a log file",
		Value:    30,
		Category: loggingCategory,
	}
	LogCompressFlag = &cli.BoolFlag{
		Name:     "log.compress",
		Usage:    "Compress the log files",
		Value:    false,
		Category: loggingCategory,
	}
)

// Flags holds all command-line flags required for debugging.
var Flags = []cli.Flag{
	VerbosityFlag,
	VmoduleFlag,
	LogFormatFlag,
	LogFileFlag,
	LogRotateFlag,
	LogMaxSizeMBsFlag,
	LogMaxBackupsFlag,
	LogMaxAgeFlag,
	LogCompressFlag,
}

var logOutputFile io.WriteCloser

// Setup initializes logging based on the CLI flags. It should be called as
// early as possible in the program.
func Setup(ctx *cli.Context) error {
	var (
		handler        slog.Handler
		terminalOutput = io.Writer(os.Stderr)
		output         io.Writer
		logFmtFlag     = ctx.String(LogFormatFlag.Name)
		logFile        = ctx.String(LogFileFlag.Name)
		rotation       = ctx.Bool(LogRotateFlag.Name)
	)
	if len(logFile) > 0 {
		if err := validateLogLocation(filepath.Dir(logFile)); err != nil {
			return fmt.Errorf("failed to initiatilize file logger: %v", err)
		}
	}
	context := []interface{}{"rotate", rotation}
	if len(logFmtFlag) > 0 {
		context = append(context, "format", logFmtFlag)
	} else {
		context = append(context, "format", "terminal")
	}
	switch {
	case rotation:
		// lumberjack falls back to <processname>-lumberjack.log in os.TempDir()
		output = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    ctx.Int(LogMaxSizeMBsFlag.Name),
			MaxBackups: ctx.Int(LogMaxBackupsFlag.Name),
			MaxAge:     ctx.Int(LogMaxAgeFlag.Name),
			Compress:   ctx.Bool(LogCompressFlag.Name),
		}
		if logFile != "" {
			context = append(context, "location", logFile)
		}
	case logFile != "":
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		logOutputFile = f
		output = f
		context = append(context, "location", logFile)
	default:
		output = terminalOutput
	}

	switch logFmtFlag {
	case "json":
		handler = log.JSONHandler(output)
	case "logfmt":
		handler = log.LogfmtHandler(output)
	case "", "terminal":
		useColor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
		if useColor && logFile == "" && !rotation {
			output = colorable.NewColorableStderr()
		} else {
			useColor = false
		}
		handler = log.NewTerminalHandler(output, useColor)
	default:
		return fmt.Errorf("unknown log format: %v", logFmtFlag)
	}

	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(log.FromLegacyLevel(ctx.Int(VerbosityFlag.Name)))
	if err := glogger.Vmodule(ctx.String(VmoduleFlag.Name)); err != nil {
		return fmt.Errorf("invalid %s: %v", VmoduleFlag.Name, err)
	}
	log.SetDefault(log.NewLogger(glogger))

	log.Debug("Logging configured", context...)
	return nil
}

// Exit closes the log file, if any.
func Exit() {
	if logOutputFile != nil {
		logOutputFile.Close()
		logOutputFile = nil
	}
}

func validateLogLocation(path string) error {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return fmt.Errorf("error creating the directory: %w", err)
	}
	// Check if the path is writable by trying to create a temporary file
	tmp := filepath.Join(path, "tmp")
	if f, err := os.Create(tmp); err != nil {
		return err
	} else {
		f.Close()
	}
	return os.Remove(tmp)
}
