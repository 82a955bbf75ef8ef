package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	flotilla "github.com/flotilla-dev/flotilla"
	"github.com/pelletier/go-toml"
	"github.com/spf13/cobra"
)

var configCmd = []cobra.Command{
	{
		Use:   "init",
		Short: "Interactively generate a config file",
		Long:  ``,
		Run: func(cmd *cobra.Command, args []string) {
			path, _ := cmd.Flags().GetString("output")

			cfg := flotilla.DefaultConfig()
			addr := cfg.Server.Addr
			mqttURL := cfg.MQTT.URL
			maxWorkers := strconv.Itoa(cfg.Pool.MaxWorkers)
			maxIdle := strconv.Itoa(cfg.Pool.MaxIdle)
			idleTimeout := cfg.Pool.IdleTimeout
			fallbackType := cfg.Pool.FallbackType

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("HTTP listen address").
						Value(&addr),
					huh.NewInput().
						Title("MQTT broker URL (empty to disable)").
						Value(&mqttURL),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("Maximum pool size").
						Validate(validateInt).
						Value(&maxWorkers),
					huh.NewInput().
						Title("Maximum idle workers").
						Validate(validateInt).
						Value(&maxIdle),
					huh.NewInput().
						Title("Idle timeout (e.g. 5m)").
						Value(&idleTimeout),
					huh.NewInput().
						Title("Fallback worker type (empty for none)").
						Value(&fallbackType),
				),
			)

			if err := form.Run(); err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			cfg.Server.Addr = addr
			cfg.MQTT.URL = mqttURL
			cfg.Pool.MaxWorkers, _ = strconv.Atoi(maxWorkers)
			cfg.Pool.MaxIdle, _ = strconv.Atoi(maxIdle)
			cfg.Pool.IdleTimeout = idleTimeout
			cfg.Pool.FallbackType = fallbackType

			data, err := toml.Marshal(*cfg)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd, fmt.Sprintf("wrote %s", path))
		},
	},
}

func validateInt(s string) error {
	if _, err := strconv.Atoi(s); err != nil {
		return fmt.Errorf("must be an integer")
	}

	return nil
}

func NewConfigCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
		Long:  ``,
	}

	for i := range configCmd {
		cmd.AddCommand(&configCmd[i])
	}

	initCmd := &configCmd[0]
	initCmd.Flags().StringP("output", "o", "config.toml", "Path of the config file to write")

	return &cmd
}
