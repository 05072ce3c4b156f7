// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// icecc-run is the remote build driver's command-line entry point: it
// parses one compile invocation's flags, resolves the environment
// catalog, and dispatches the job through the orchestrator, exiting
// with the compile's own shell-convention status code.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/icecc-go/driver/lib/broker"
	"github.com/icecc-go/driver/lib/channel"
	"github.com/icecc-go/driver/lib/compilejob"
	"github.com/icecc-go/driver/lib/config"
	"github.com/icecc-go/driver/lib/environment"
	"github.com/icecc-go/driver/lib/icerr"
	"github.com/icecc-go/driver/lib/orchestrator"
	"github.com/icecc-go/driver/lib/procrun"
	"github.com/icecc-go/driver/lib/remotesession"
	"github.com/icecc-go/driver/lib/termstyle"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath       string
		inputFile        string
		outputFile       string
		targetPlatform   string
		language         string
		argumentFlags    []string
		remoteFlags      []string
		restFlags        []string
		streaming        bool
		splitDebug       bool
		clang            bool
		brokerSocket     string
		preferredHost    string
		permill          int
		ignoreUnverified bool
	)

	flagSet := pflag.NewFlagSet("icecc-run", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to icecc.yaml config file (default: $ICECC_CONFIG)")
	flagSet.StringVar(&inputFile, "input", "", "source (or preprocessed) file path")
	flagSet.StringVar(&outputFile, "output", "", "destination object file path")
	flagSet.StringVar(&targetPlatform, "target-platform", "", "compiler target tag (e.g. x86_64_linux)")
	flagSet.StringVar(&language, "language", "c++", "source language tag")
	flagSet.StringArrayVar(&argumentFlags, "argument-flag", nil, "scheduling-relevant compiler flag (repeatable)")
	flagSet.StringArrayVar(&remoteFlags, "remote-flag", nil, "flag passed to the compiler on the remote side (repeatable)")
	flagSet.StringArrayVar(&restFlags, "rest-flag", nil, "flag that is part of the job identity but affects neither scheduling nor the remote invocation (repeatable)")
	flagSet.BoolVar(&streaming, "streaming", false, "use stdin/stdout pipe mode instead of file I/O")
	flagSet.BoolVar(&splitDebug, "split-debug", false, "expect an additional .dwo companion output")
	flagSet.BoolVar(&clang, "clang", false, "mark this job's compiler as clang-family (excludes it from the redundancy gate)")
	flagSet.StringVar(&brokerSocket, "broker-socket", "", "override the configured broker Unix socket path")
	flagSet.StringVar(&preferredHost, "preferred-host", "", "override the configured preferred compile server")
	flagSet.IntVar(&permill, "permill", -1, "override the configured redundancy permill (0-1000)")
	flagSet.BoolVar(&ignoreUnverified, "ignore-unverified-hosts", false, "override the configured strict-verification policy")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			flagSet.PrintDefaults()
			return 0
		}
		fmt.Fprintln(os.Stderr, "icecc-run:", err)
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "icecc-run:", err)
		return 1
	}
	if brokerSocket != "" {
		cfg.Broker.SocketPath = brokerSocket
	}
	if preferredHost != "" {
		cfg.Broker.PreferredHost = preferredHost
	}
	if permill >= 0 {
		cfg.Redundancy.Permill = permill
	}
	if flagSet.Changed("ignore-unverified-hosts") {
		cfg.Policy.IgnoreUnverifiedHosts = ignoreUnverified
	}

	if inputFile == "" || outputFile == "" || targetPlatform == "" {
		fmt.Fprintln(os.Stderr, "icecc-run: --input, --output, and --target-platform are required")
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	stderr := termstyle.New(os.Stderr)

	job := compilejob.Job{
		InputFile:       inputFile,
		OutputFile:      outputFile,
		TargetPlatform:  targetPlatform,
		Language:        language,
		ArgumentFlags:   argumentFlags,
		RemoteFlags:     remoteFlags,
		RestFlags:       restFlags,
		Streaming:       streaming,
		SplitDebug:      splitDebug,
		CompilerIsClang: clang,
	}

	os.Setenv("ICECC_PREFERRED_HOST", cfg.Broker.PreferredHost)

	conn, err := net.DialTimeout("unix", cfg.Broker.SocketPath, 5*time.Second)
	if err != nil {
		stderr.Error(fmt.Sprintf("connecting to broker at %s: %v", cfg.Broker.SocketPath, err))
		return 1
	}
	brokerChannel := channel.New(conn)
	defer brokerChannel.Close()
	brokerClient := broker.New(brokerChannel, logger)

	entries := environment.Parse(logger, cfg.Compiler.EnvironmentDescriptor, targetPlatform, cfg.Compiler.Prefix)

	preprocessor := &procrun.ExecPreprocessor{Command: cfg.Compiler.PreprocessorCommand}
	localCompiler := &procrun.ExecLocalCompiler{Command: cfg.Compiler.CompilerCommand}

	sessionOpts := remotesession.Options{
		IgnoreUnverifiedHosts: cfg.Policy.IgnoreUnverifiedHosts,
		NeedsOutputWorkaround: nil,
	}

	o := orchestrator.New(brokerClient, preprocessor, localCompiler, remotesession.ChannelDialer(), logger, stderr, sessionOpts)

	exitCode, err := o.Run(context.Background(), job, entries, cfg.Redundancy.Permill)
	if err != nil {
		if icerr.IsRetryable(err) {
			logger.Warn("remote build failed retryably, recompiling locally", "error", err)
			exitCode, err = fallbackToLocalCompile(job, localCompiler)
		}
		if err != nil {
			stderr.Error(err.Error())
			return 1
		}
	}

	return exitCode
}

func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		return config.LoadFile(explicitPath)
	}
	if os.Getenv("ICECC_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// fallbackToLocalCompile recompiles job on this host when the remote
// attempt returned a retryable error (§7 codes 101/102): the original
// recompiles locally rather than surfacing an out-of-memory remote
// failure to the user.
func fallbackToLocalCompile(job compilejob.Job, compiler procrun.LocalCompiler) (int, error) {
	exitCode, _, err := compiler.Run(context.Background(), job)
	if err != nil {
		return 0, icerr.Wrap(icerr.CodeMiscError, icerr.KindLocal, "local fallback recompile after a retryable remote failure", err)
	}
	return exitCode, nil
}
