// Command moe is the root memory allocator and dataspace engine: the
// first task the (simulated) kernel starts, owning the physical page
// pool and handing out dataspaces, region maps, namespaces and child
// factories to everything started after it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"l4rt/internal/bootfs"
	"l4rt/internal/config"
	"l4rt/internal/logging"
	"l4rt/internal/moe"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		debugBits string
		initFlag     string
		l4reDbg   string
		ldrFlags  string
		manifest  string
	)

	cmd := &cobra.Command{
		Use:   "moe [init command line...]",
		Short: "root memory allocator and dataspace engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			initCmdline := initFlag
			if initCmdline == "" && len(args) > 0 {
				initCmdline = args[0]
			}
			return run(context.Background(), debugBits, l4reDbg, ldrFlags, manifest, initCmdline, args)
		},
	}

	cmd.Flags().StringVar(&debugBits, "debug", "", "comma-separated debug bits (info,warn,boot,server,exceptions,loader,parser,bootfs,namespace,all)")
	cmd.Flags().StringVar(&initFlag, "init", "", "host path of the first program; its file is read and registered as a boot module (it is not started)")
	cmd.Flags().StringVar(&l4reDbg, "l4re-dbg", "", "legacy debug level; stored in the resolved config, not passed to any child")
	cmd.Flags().StringVar(&ldrFlags, "ldr-flags", "", "loader flags; stored in the resolved config, not passed to the ELF loader or any child")
	cmd.Flags().StringVar(&manifest, "manifest", "", "path to an optional TOML boot manifest")

	return cmd
}

func run(ctx context.Context, debugBits, l4reDbg, ldrFlags, manifestPath, initCmdline string, args []string) error {
	manifest, err := config.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("moe: loading manifest: %w", err)
	}
	cfg := config.ResolveMoe(manifest, debugBits, 0, initCmdline, l4reDbg, ldrFlags)

	logCfg := logging.DefaultConfig()
	logCfg.Tag = "moe"
	logCfg.Bits = cfg.DebugBits
	log := logging.New(logCfg)

	root, err := moe.New(cfg, log, 0)
	if err != nil {
		return fmt.Errorf("moe: starting root server: %w", err)
	}
	defer root.Close()

	if cfg.Init != "" {
		data, rerr := os.ReadFile(cfg.Init)
		if rerr == nil {
			if lerr := root.LoadBootModules([]bootfs.Module{{Cmdline: cfg.Init, Data: data}}); lerr != nil {
				log.Warnf("moe: loading boot module %q: %s", cfg.Init, lerr)
			}
		} else {
			log.Warnf("moe: reading init program %q: %s", cfg.Init, rerr)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR2)
	log.Infof("moe: ready")
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR2:
				diag := root.Diagnostics()
				log.Infof("moe: diagnostics snapshot: kind=%s objects=%d", diag.Kind, diag.Count)
			default:
				log.Infof("moe: exiting on %s", sig)
				return nil
			}
		}
	}
}
