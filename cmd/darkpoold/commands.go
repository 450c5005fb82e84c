package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/0x5487/darkpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const homeFlag = "home"

// rootCommand constructs the root command-line entry point.
func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "darkpoold",
		Short:         "Confidential dark pool order matching and settlement daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String(homeFlag, os.ExpandEnv(filepath.Join("$HOME", ".darkpool")), "directory for config, keys and data")

	cmd.AddCommand(initCommand(), startCommand(), showKeysCommand(), versionCommand())
	return cmd
}

func homeDir(cmd *cobra.Command) (string, error) {
	return cmd.Flags().GetString(homeFlag)
}

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file and generate the compute and signing keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := homeDir(cmd)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			v := viper.New()
			setDefaults(v, DefaultConfig())
			cfgFile := filepath.Join(home, "config.toml")
			if _, err := os.Stat(cfgFile); isNotExist(err) {
				if err := v.WriteConfigAs(cfgFile); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
			}

			if err := generateKeys(filepath.Join(home, "keys")); err != nil {
				return fmt.Errorf("generate keys: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", home)
			return nil
		},
	}
}

func startCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the dark pool, the local compute cluster, the command API and the metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := homeDir(cmd)
			if err != nil {
				return err
			}

			v := viper.New()
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := loadConfig(v, home)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("api_addr", "", "command API listen address, empty to use the config file")
	cmd.Flags().String("metrics_addr", "", "prometheus listen address, empty to use the config file")
	cmd.Flags().String("log_level", "", "log level, empty to use the config file")
	return cmd
}

func showKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show-keys",
		Short: "Print the public keys traders seal orders to and verify results with",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := homeDir(cmd)
			if err != nil {
				return err
			}
			compute, sign, err := loadKeys(filepath.Join(home, "keys"))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compute: %s\n", hex.EncodeToString(compute.Public[:]))
			fmt.Fprintf(cmd.OutOrStdout(), "verify:  %s\n", hex.EncodeToString(sign.Public().(ed25519.PublicKey)))
			return nil
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), darkpool.EngineVersion)
		},
	}
}
