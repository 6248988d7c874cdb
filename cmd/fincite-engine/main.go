package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"fincite/engine/internal/appdirs"
	"fincite/engine/internal/engine"
	"fincite/engine/internal/envfile"
	"fincite/engine/internal/envutil"
	"fincite/engine/internal/errinfo"
	"fincite/engine/internal/logging"
	"fincite/engine/internal/rpc"
)

var rootCmd = &cobra.Command{
	Use:   "fincite-engine",
	Short: "fincite-engine - document chat response pipeline",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON-RPC API over stdio",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print engine and API versions",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fincite-engine %s (api %s)\n", engine.EngineVersion, engine.APIVersion)
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	envResult := envfile.Load()
	debug := envutil.Bool("FINCITE_DEBUG")
	dataDir, err := appdirs.DataDir()
	if err != nil {
		log.Fatalf("engine init failed: %v", err)
	}
	logSetup, logErr := logging.NewFileLogger(dataDir, debug)
	logger := logSetup.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With("component", "engine")
	if logSetup.Enabled {
		logger.Info("engine.logging_enabled", "path", logSetup.Path)
	}
	if envResult.Loaded {
		logger.Debug("engine.env_loaded", "path", envResult.Path, "keys", envResult.Keys)
	}
	if envResult.Err != nil {
		logger.Warn("engine.env_load_failed", "path", envResult.Path, "error", envResult.Err.Error())
	}
	if logErr != nil {
		logger.Warn("engine.log_setup_failed", "error", logErr.Error())
	}
	if logSetup.Close != nil {
		defer logSetup.Close()
	}

	eng, err := engine.New(engine.WithLogger(logger))
	if err != nil {
		logger.Error("engine.init_failed", "error", err.Error())
		return err
	}
	defer eng.Close()
	server := rpc.NewServer(engine.APIVersion, os.Stdin, os.Stdout, logger)
	eng.SetNotifier(server.Notify)

	register := func(method string, fn func(context.Context, json.RawMessage) (any, *errinfo.ErrorInfo)) {
		server.Register(method, func(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
			result, errInfo := fn(ctx, params)
			if errInfo != nil {
				msg := errInfo.ErrorCode
				if errInfo.Detail != "" {
					msg = errInfo.Detail
				}
				return nil, &rpc.Error{Message: msg, Data: errInfo}
			}
			return result, nil
		})
	}

	register("EngineGetInfo", eng.EngineGetInfo)
	register("TurnRun", eng.TurnRun)
	register("TurnCancel", eng.TurnCancel)
	register("CacheGetStats", eng.CacheGetStats)
	register("CacheSweep", eng.CacheSweep)
	register("RouterGetStats", eng.RouterGetStats)
	register("ProviderGetStatus", eng.ProviderGetStatus)
	register("ProviderSetApiKey", eng.ProviderSetApiKey)
	register("ProviderClearApiKey", eng.ProviderClearApiKey)
	register("TranscriptsList", eng.TranscriptsList)
	register("TranscriptGet", eng.TranscriptGet)

	if err := server.Serve(cmd.Context()); err != nil {
		logger.Error("rpc.server_error", "error", err.Error())
		return err
	}
	return nil
}
