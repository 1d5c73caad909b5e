// main.go - ryder-cli operator tool.
// SPDX-FileCopyrightText: © 2023 Light Labs
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/log"

	"github.com/Light-Labs/ryder-client/config"
	"github.com/Light-Labs/ryder-client/ryder"
)

const usage = `usage: ryder-cli [flags] <command>

commands:
  enumerate   list attached Ryder devices
  info        query firmware info
  wake        wake the device
  erase       factory erase the device (asks for confirmation on-device)
`

func main() {
	cfgFile := flag.String("config", "", "TOML configuration file")
	port := flag.String("port", "", "serial port (overrides config and enumeration)")
	debug := flag.Bool("debug", false, "enable debug logging")
	version := flag.Bool("version", false, "print version and exit")
	timeout := flag.Duration("timeout", 30*time.Second, "per-command timeout")
	flag.Parse()

	if *version {
		fmt.Printf("ryder-cli %s\n", versioninfo.Short())
		return
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "ryder-cli",
	})
	if *debug {
		logger.SetLevel(log.DebugLevel)
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if cmd == "enumerate" {
		names, err := ryder.Enumerate()
		if err != nil {
			logger.Fatalf("enumeration failed: %v", err)
		}
		if len(names) == 0 {
			logger.Info("no Ryder devices attached")
			return
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	opts := ryder.DefaultOptions()
	portName := *port
	if *cfgFile != "" {
		cfg, err := config.Load(*cfgFile)
		if err != nil {
			logger.Fatal(err)
		}
		opts = cfg.EngineOptions()
		if portName == "" {
			portName = cfg.Port
		}
	}
	opts.Debug = opts.Debug || *debug
	opts.Logger = logger

	if portName == "" {
		names, err := ryder.Enumerate()
		if err != nil {
			logger.Fatalf("enumeration failed: %v", err)
		}
		if len(names) == 0 {
			logger.Fatal("no Ryder devices attached and no -port given")
		}
		portName = names[0]
	}

	engine, err := ryder.New(portName, opts)
	if err != nil {
		logger.Fatal(err)
	}
	defer engine.Close()

	engine.On(ryder.EventWaitUserConfirm, func(error) {
		logger.Info("confirm the operation on the device")
	})
	engine.On(ryder.EventLocked, func(error) {
		logger.Warn("the device is locked; enter the PIN on the device")
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, engine, cmd, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(ctx context.Context, engine *ryder.Engine, cmd string, logger *log.Logger) error {
	switch cmd {
	case "info":
		// Wake first so a sleeping device answers; the lock keeps the
		// two exchanges from interleaving with other users of the
		// engine.
		return engine.Sequence(ctx, func() error {
			if _, err := engine.SendByte(ctx, ryder.CommandWake); err != nil {
				return err
			}
			reply, err := engine.SendByte(ctx, ryder.CommandInfo)
			if err != nil {
				return err
			}
			if reply.HasData() {
				fmt.Printf("info: %s\n", hex.EncodeToString(reply.Data))
			} else {
				fmt.Printf("info: status %s\n", ryder.StatusName(reply.Status))
			}
			return nil
		})

	case "wake":
		reply, err := engine.SendByte(ctx, ryder.CommandWake)
		if err != nil {
			return err
		}
		logger.Infof("device replied %s", ryder.StatusName(reply.Status))
		return nil

	case "erase":
		reply, err := engine.SendByte(ctx, ryder.CommandErase)
		if err != nil {
			return err
		}
		if reply.Status == ryder.StatusRejected {
			return fmt.Errorf("erase rejected on the device")
		}
		logger.Infof("device replied %s", ryder.StatusName(reply.Status))
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}
