package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lunixbochs/minicorn/arch"
	"github.com/lunixbochs/minicorn/log"
	"github.com/lunixbochs/minicorn/models/trace"
)

var (
	verbose bool
	color   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "minicorn",
		Short: "Emulate x86 code from a run file",
		Long: `minicorn runs raw x86 code on a pure-Go cpu emulator.

A run file (YAML) lists the memory mappings and their contents, initial
registers and where to start and stop:

  arch: x86_64
  map:
    - addr: 0x1000
      size: 0x1000
      prot: rwx
      hex: "48 ff c0"
  regs:
    rax: 41
  begin: 0x1000
  until: 0x1003
  dump:
    - {addr: 0x1000, size: 0x10}

Run files given by bare name are also looked up in the user config dir,
which may hold an init.js hook script loaded before every run's script.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug output")
	rootCmd.PersistentFlags().StringVar(&color, "color", "auto", "color output: auto, always or never")

	rootCmd.AddCommand(runCmd(), disCmd(), traceCmd(), archCmd())
	if err := rootCmd.Execute(); err != nil {
		PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var status, regions, noInit bool
	var tracefile string
	cmd := &cobra.Command{
		Use:   "run <run.yaml>",
		Short: "Execute a run file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(args[0])
			if err != nil {
				return err
			}
			if tracefile != "" {
				// relative to the working directory, not the run file
				if cfg.Trace, err = filepath.Abs(tracefile); err != nil {
					return errors.WithStack(err)
				}
			}
			out, useColor, err := stdout(color)
			if err != nil {
				return err
			}
			logger := log.New(verbose)
			defer logger.Sync()
			r := &runner{
				cfg:         cfg,
				log:         logger,
				out:         out,
				color:       useColor,
				status:      status,
				regions:     regions,
				initScripts: !noInit,
			}
			return r.Run()
		},
	}
	cmd.Flags().BoolVarP(&status, "status", "s", false, "print registers after the run, highlighting changes")
	cmd.Flags().BoolVarP(&regions, "regions", "m", false, "print the memory map after the run")
	cmd.Flags().BoolVar(&noInit, "no-init", false, "skip init.js from the config dir")
	cmd.Flags().StringVarP(&tracefile, "to", "o", "", "binary trace output file, overriding the run file")
	return cmd
}

func parseAddr(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 0, 64)
	return n, errors.Wrapf(err, "bad address %q", s)
}

func disCmd() *cobra.Command {
	var archName, addrStr string
	cmd := &cobra.Command{
		Use:   "dis <hex | ->",
		Short: "Disassemble hex bytes, or raw bytes from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := arch.GetArch(archName)
			if err != nil {
				return err
			}
			addr, err := parseAddr(addrStr)
			if err != nil {
				return err
			}
			var code []byte
			if args[0] == "-" {
				code, err = io.ReadAll(cmd.InOrStdin())
			} else {
				code, err = hex.DecodeString(strings.Join(strings.Fields(args[0]), ""))
			}
			if err != nil {
				return errors.Wrap(err, "failed to read code")
			}
			return dis(cmd.OutOrStdout(), a.Dis, code, addr)
		},
	}
	cmd.Flags().StringVarP(&archName, "arch", "a", "x86", "architecture: "+strings.Join(arch.Names(), ", "))
	cmd.Flags().StringVar(&addrStr, "addr", "0", "address of the first byte")
	return cmd
}

func traceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trace <file>",
		Short: "Dump a binary trace file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(err, "failed to open trace")
			}
			r, err := trace.NewReader(f)
			if err != nil {
				f.Close()
				return err
			}
			defer r.Close()
			return dumpTrace(cmd.OutOrStdout(), r)
		},
	}
}

func archCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "arch",
		Short: "List architectures and their registers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range arch.Names() {
				a, _ := arch.GetArch(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %d-bit  %s\n", a.Name, a.Bits, strings.Join(a.DefaultRegs, " "))
			}
			return nil
		},
	}
}
