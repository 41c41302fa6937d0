// Command ned is the Lua-scripted launcher: it runs a script against an
// "L4" Lua binding exposing default_loader:start and namespace
// query/register, starting the tasks the script names against an
// in-process root server that it creates at startup.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"l4rt/internal/config"
	"l4rt/internal/logging"
	"l4rt/internal/moe"
	"l4rt/internal/ned"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		interactive bool
		noexit      bool
		inlineExpr  string
		configExpr  string
	)

	cmd := &cobra.Command{
		Use:   "ned [script] [args...]",
		Short: "Lua-scripted task launcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			var script string
			if len(args) > 0 {
				script = args[0]
			}
			return run(script, interactive, noexit, inlineExpr, configExpr)
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "log that interactive mode was requested after the script (no Lua prompt is started)")
	cmd.Flags().BoolVar(&noexit, "noexit", false, "log a note after the script (ned still exits when the script finishes)")
	cmd.Flags().StringVarP(&inlineExpr, "expr", "e", "", "evaluate an inline Lua expression instead of a script file")
	cmd.Flags().StringVarP(&configExpr, "config", "c", "", "inline Lua configuration evaluated before the script")

	return cmd
}

func run(script string, interactive, noexit bool, inlineExpr, configExpr string) error {
	logCfg := logging.DefaultConfig()
	logCfg.Tag = "ned"
	log := logging.New(logCfg)

	root, err := moe.New(config.MoeConfig{}, log, 0)
	if err != nil {
		return fmt.Errorf("ned: starting backing root server: %w", err)
	}
	defer root.Close()

	launcher := ned.New(root.Factory(), root.Namespace(), root.Tasks(), log, root.ReadBootModule)
	defer launcher.Close()

	if configExpr != "" {
		if err := launcher.RunString(configExpr); err != nil {
			return fmt.Errorf("ned: evaluating -c expression: %w", err)
		}
	}
	if inlineExpr != "" {
		if err := launcher.RunString(inlineExpr); err != nil {
			return fmt.Errorf("ned: evaluating -e expression: %w", err)
		}
	} else if script != "" {
		if err := launcher.Run(script); err != nil {
			return fmt.Errorf("ned: running %q: %w", script, err)
		}
	}

	if interactive || noexit {
		log.Infof("ned: script finished, %s", interactiveNote(interactive, noexit))
	}
	return nil
}

func interactiveNote(interactive, noexit bool) string {
	switch {
	case interactive:
		return "interactive mode requested (no TTY driver wired in this build)"
	case noexit:
		return "--noexit requested (ned exits after the script in this build)"
	default:
		return ""
	}
}
