package agentcli

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/GuiPerPT/zwift-ride-keytrigger/internal/blesvc"
	"github.com/GuiPerPT/zwift-ride-keytrigger/internal/configsvc"
	"github.com/GuiPerPT/zwift-ride-keytrigger/pkg/agent"
	"github.com/GuiPerPT/zwift-ride-keytrigger/rideapi"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "ride-keytrigger"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

func NewRootCmd(configDir string) *cobra.Command {
	cfg := agent.Config{
		DataDir:       filepath.Join(configDir, "data"),
		MappingConfig: filepath.Join(configDir, "key_mapping.json"),
		Adapter:       "hci0",
	}
	rootCmd := &cobra.Command{
		Use:   "ride-keytrigger",
		Short: "Zwift Ride controller to keyboard bridge",
		Long:  `ride-keytrigger connects to the Zwift Ride left controller over BLE and turns its buttons into keyboard input.`,
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&cfg.MappingConfig, "mapping-config", cfg.MappingConfig, "key mapping file")
	rootCmd.PersistentFlags().StringVar(&cfg.Adapter, "adapter", cfg.Adapter, "bluetooth adapter")
	rootCmd.PersistentFlags().StringVar(&cfg.Address, "address", cfg.Address, "controller address (skips scanning)")
	rootCmd.PersistentFlags().DurationVar(&cfg.ScanTimeout, "scan-timeout", 30*time.Second, "scan timeout")
	rootCmd.PersistentFlags().DurationVar(&cfg.RepeatDelay, "repeat-delay", 200*time.Millisecond, "minimum hold time before a key repeats")
	rootCmd.AddCommand(NewRun(&cfg))
	rootCmd.AddCommand(NewScan(&cfg))
	rootCmd.AddCommand(NewDevices(&cfg))
	rootCmd.AddCommand(NewInitMapping(&cfg))
	rootCmd.AddCommand(NewDecode())
	return rootCmd
}

func NewRun(cfg *agent.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the controller and dispatch input",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := agent.NewAgent(*cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(cmd.Context())
		},
	}
}

func NewScan(cfg *agent.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan for left Ride controllers",
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := blesvc.DiscoverControllers(cmd.Context(), cfg.Adapter, cfg.ScanTimeout)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), found)
		},
	}
}

func NewDevices(cfg *agent.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List controllers seen on previous runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := agent.NewAgent(*cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			controllers, err := a.BLE().Registry().List()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), controllers)
		},
	}
}

func NewInitMapping(cfg *agent.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "init-mapping",
		Short: "Write the default key mapping file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(filepath.Dir(cfg.MappingConfig), 0755); err != nil {
				return err
			}
			err := configsvc.WriteKeyMapping(cfg.MappingConfig, configsvc.DefaultKeyMapping())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.MappingConfig)
			return nil
		},
	}
}

// NewDecode decodes a hex-encoded notification payload, a debugging aid
// for captured frames.
func NewDecode() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex-payload>",
		Short: "Decode a hex notification payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("invalid hex payload: %w", err)
			}
			frame, err := rideapi.DecodeFrame(payload)
			if err != nil {
				return err
			}
			out := struct {
				Type    string                 `json:"type"`
				Word    string                 `json:"word,omitempty"`
				Pressed []string               `json:"pressed,omitempty"`
				Analog  []rideapi.AnalogSample `json:"analog,omitempty"`
			}{
				Type: frame.Type.String(),
			}
			if frame.Type == rideapi.FrameButtonStatus {
				out.Word = fmt.Sprintf("%08x", frame.Word)
				out.Pressed = make([]string, len(frame.Pressed))
				for i, b := range frame.Pressed {
					out.Pressed[i] = b.String()
				}
				out.Analog = frame.Analog
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
