// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

func main() {
	os.Exit(mainWithCode())
}

func mainWithCode() int {
	cfg, args, err := loadConfig(cleanenv.ReadEnv, os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		printUsage()
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "qatctl: %v\n", err)
		return 2
	}

	log := newLogger(cfg.Verbosity)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, log, cfg, args, os.Stdout, defaultManagerOptions); err != nil {
		log.Error(err, "Command failed")
		return 1
	}
	return 0
}

func newLogger(verbosity int) logr.Logger {
	logf.SetLogger(zap.New(
		zap.WriteTo(os.Stderr),
		zap.UseDevMode(verbosity > 0),
		zap.Level(zapcore.Level(-verbosity)),
	))
	return logf.Log.WithName("qatctl")
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: qatctl [flags] <command> [args]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", cmd.name, cmd.help)
	}
	fmt.Fprintln(os.Stderr, "\nFlags:")
	fs := pflag.NewFlagSet("qatctl", pflag.ContinueOnError)
	cfg := defaultConfig()
	cfg.addFlags(fs)
	fs.SetOutput(os.Stderr)
	fs.PrintDefaults()
}
