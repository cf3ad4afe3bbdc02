package cmd

import (
	"github.com/spf13/cobra"

	"github.com/agentic-research/pillarctl/internal/disks"
	"github.com/agentic-research/pillarctl/internal/salt"
)

var (
	minionTarget string
	saltBin      string
	saltRunBin   string
)

func init() {
	disksCmd.PersistentFlags().StringVar(&minionTarget, "minions", "", "DeepSea minion target (default: ask salt-run deepsea_minions.show)")
	disksCmd.PersistentFlags().StringVar(&saltBin, "salt-bin", "salt", "salt executable")
	disksCmd.PersistentFlags().StringVar(&saltRunBin, "salt-run-bin", "salt-run", "salt-run executable")

	disksCmd.AddCommand(disksTestCmd)
	disksCmd.AddCommand(disksTargetsCmd)
	rootCmd.AddCommand(disksCmd)
}

var disksCmd = &cobra.Command{
	Use:   "disks",
	Short: "Inspect the drive_group pillar against the storage minions",
}

var disksTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Show the disks each target minion would use for its DriveGroup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := disks.Test(cmd.Context(), disksConfig(cmd))
		if err != nil {
			return err
		}
		return printYAML(cmd.OutOrStdout(), out)
	},
}

var disksTargetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the minions matched by the drive_group target",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := disks.NewBase(cmd.Context(), disksConfig(cmd))
		if err != nil {
			return err
		}
		hosts, err := base.ResolvedTargets(cmd.Context())
		if err != nil {
			return err
		}
		return printYAML(cmd.OutOrStdout(), hosts)
	},
}

func disksConfig(cmd *cobra.Command) disks.Config {
	l := logger(cmd)
	client := salt.NewExecClient(salt.ExecConfig{SaltBin: saltBin, RunBin: saltRunBin, Logger: l})
	var minions disks.MinionLister = disks.RunnerMinions{Runner: client}
	if minionTarget != "" {
		minions = disks.StaticMinions(minionTarget)
	}
	return disks.Config{Client: client, Minions: minions, Logger: l}
}
