package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alan-christopher/bb84chat/internal/config"
)

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)

	root := &cobra.Command{
		Use:           "bb84",
		Short:         "BB84 key exchange and single-message stream cipher",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Environment first, then any flag the user set explicitly.
			env, err := config.FromEnv()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			applyUnset(flags, &cfg, env)
			if err := cfg.Validate(); err != nil {
				return err
			}
			log.SetLevel(cfg.Level())
			return nil
		},
	}
	cfg.RegisterFlags(root.PersistentFlags())
	root.AddCommand(newDemoCmd(&cfg, log), newServeCmd(&cfg, log), newBenchCmd(log))
	return root
}
