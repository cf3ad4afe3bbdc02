package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/pillarctl/internal/pillar"
)

var (
	policyPath string
	dryRun     bool
)

func init() {
	pushCmd.PersistentFlags().StringVar(&policyPath, "policy", pillar.DefaultPolicy, "Policy file, absolute or relative to --pillar-dir")
	proposalCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log what would be written without touching the pillar")

	pushCmd.AddCommand(proposalCmd)
	pushCmd.AddCommand(convertCmd)
	pushCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(pushCmd)
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Merge the proposals selected by the policy file into the pillar",
}

var proposalCmd = &cobra.Command{
	Use:   "proposal",
	Short: "Merge proposals and write stack/default plus override placeholders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, policy, err := openPillar(cmd, dryRun)
		if err != nil {
			return err
		}
		return p.Proposal(policy)
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Migrate hardware profiles to the bluestore layout and push",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, policy, err := openPillar(cmd, false)
		if err != nil {
			return err
		}
		return p.Convert(policy)
	},
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Check the proposals selected by the policy file for YAML errors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, policy, err := openPillar(cmd, false)
		if err != nil {
			return err
		}
		errs, err := p.Lint(policy)
		if err != nil {
			return err
		}
		for _, e := range errs {
			fmt.Fprintln(cmd.OutOrStdout(), e.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%d syntax errors", len(errs))
		}
		return nil
	},
}

func openPillar(cmd *cobra.Command, dry bool) (*pillar.Pillar, string, error) {
	root, err := filepath.Abs(pillarDir)
	if err != nil {
		return nil, "", fmt.Errorf("pillar dir: %w", err)
	}
	policy, err := relPolicy(root, policyPath)
	if err != nil {
		return nil, "", err
	}
	p := pillar.New(pillar.Config{
		FS:     osfs.New(root),
		Root:   root,
		DryRun: dry,
		Logger: logger(cmd),
	})
	return p, policy, nil
}

// relPolicy makes an absolute policy path relative to the pillar root.
func relPolicy(root, policy string) (string, error) {
	if !filepath.IsAbs(policy) {
		return filepath.ToSlash(policy), nil
	}
	rel, err := filepath.Rel(root, policy)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("policy file %s is outside the pillar directory %s", policy, root)
	}
	return filepath.ToSlash(rel), nil
}
