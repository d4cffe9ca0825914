// ezdma is a utility for exercising DMA channels against the in-memory
// loopback engine: enumerating the configured channel table, piping data
// through a loopback FIFO, and running the classic loopback speed test.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/warthog618/config"
	"github.com/warthog618/config/blob"
	"github.com/warthog618/config/blob/decoder/json"
	"github.com/warthog618/config/dict"
	"github.com/warthog618/config/env"

	"github.com/jeremytrimble/ezdma/pkg/devno"
	"github.com/jeremytrimble/ezdma/pkg/engine"
	"github.com/jeremytrimble/ezdma/pkg/platform"
)

var version = "0.1"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "ezdma",
	Short: "ezdma exercises zero-copy DMA channels over a loopback engine",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	Version: version,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config-file", "c", "ezdma.json",
		"channel table config file")
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func logErr(cmd *cobra.Command, err error) {
	fmt.Fprintf(os.Stderr, "ezdma %s: %s\n", cmd.Name(), err)
}

// loadConfig layers the channel table sources: environment over config
// file over the loopback defaults.
func loadConfig() *config.Config {
	defaultConfig := map[string]interface{}{
		"channels":     []string{"loop_tx", "loop_rx"},
		"loop_tx.dir":  2,
		"loop_tx.fifo": "loop",
		"loop_rx.dir":  1,
		"loop_rx.fifo": "loop",
		"devno.major":  240,
		"devno.count":  8,
	}
	def := dict.New(dict.WithMap(defaultConfig))
	cfg := config.New(
		env.New(env.WithEnvPrefix("EZDMA_")),
		config.WithDefault(def))
	cfg.Append(
		blob.NewConfigFile(cfg, "config.file", configFile, json.NewDecoder()))
	return cfg
}

// probePlatform enumerates the configured channels onto a fresh loopback
// hub.
func probePlatform() (*platform.Platform, error) {
	cfg := loadConfig()
	specs, err := platform.ParseSpecs(cfg)
	if err != nil {
		return nil, err
	}

	major := uint32(240)
	count := 8
	if v, err := cfg.Get("devno.major"); err == nil {
		major = uint32(v.Uint())
	}
	if v, err := cfg.Get("devno.count"); err == nil {
		count = int(v.Int())
	}

	alloc := devno.New(major, 0, count)
	hub := engine.NewHub()
	return platform.Probe(specs, platform.HubProvider{Hub: hub}, alloc)
}

// signalContext is cancelled on SIGINT, so a blocked transfer unwinds with
// an interrupted error the way a signalled read would.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
