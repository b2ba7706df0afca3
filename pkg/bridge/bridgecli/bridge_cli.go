package bridgecli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hidbridge/hidbridge/hidlayout"
	"github.com/hidbridge/hidbridge/pkg/bridge"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "hidbridge"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

// bridgeProvider constructs the bridge on first use, so commands that never
// touch it (parse-descriptor) run without badger or uhid access.
type bridgeProvider func() (*bridge.Bridge, error)

func NewRootCmd(configDir string) *cobra.Command {
	cfg := bridge.Config{
		DataDir:      filepath.Join(configDir, "data"),
		BridgeConfig: filepath.Join(configDir, "bridge.yml"),
	}
	rootCmd := &cobra.Command{
		Use:   "hidbridge",
		Short: "USB HID to radio bridge",
		Long:  `hidbridge forwards USB mouse and keyboard traffic onto a rate-limited radio link, aggregating motion to match the link's report interval.`,
	}
	var b *bridge.Bridge
	provider := func() (*bridge.Bridge, error) {
		if b != nil {
			return b, nil
		}
		var err error
		b, err = bridge.New(cfg)
		return b, err
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&cfg.BridgeConfig, "bridge-config", cfg.BridgeConfig, "bridge config file")
	rootCmd.AddCommand(NewRun(provider))
	rootCmd.AddCommand(NewListDevices(provider))
	rootCmd.AddCommand(NewParseDescriptor())
	return rootCmd
}

func NewRun(provider bridgeProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge",
		Long:  `Run the bridge daemon: enumerate USB HID devices and forward their traffic onto the radio link.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := provider()
			if err != nil {
				return err
			}
			defer b.Close()
			return b.Run(cmd.Context())
		},
	}
}

func NewListDevices(provider bridgeProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List recorded devices",
		Long:  `List every USB HID device the bridge has recorded, connected or not.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := provider()
			if err != nil {
				return err
			}
			defer b.Close()
			devices, err := b.USB().ListDevices()
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(devices, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}

func NewParseDescriptor() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-descriptor <file>",
		Short: "Parse a report descriptor",
		Long:  `Parse a binary HID report descriptor file and print the extracted report layouts.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			layouts := hidlayout.Extract(desc)
			if len(layouts) == 0 {
				return fmt.Errorf("no report layouts found in %s", args[0])
			}
			jsonB, err := json.MarshalIndent(layouts, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}
