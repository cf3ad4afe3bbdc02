package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/pillarctl/internal/multi"
)

var (
	workers   int
	iperfCPU  int
	iperfPort int
)

func init() {
	multiCmd.PersistentFlags().IntVar(&workers, "workers", 0, "Parallel commands (default 4 per available CPU)")
	iperfCmd.Flags().IntVar(&iperfCPU, "cpu", 0, "CPU core to pin iperf3 to")
	iperfCmd.Flags().IntVar(&iperfPort, "port", multi.DefaultIperfPort, "iperf3 server port")
	iperfServerCmd.Flags().IntVar(&iperfCPU, "cpu", 0, "CPU core to pin iperf3 to")
	iperfServerCmd.Flags().IntVar(&iperfPort, "port", multi.DefaultIperfPort, "iperf3 server port")

	multiCmd.AddCommand(pingCmd, jumboPingCmd, iperfCmd, iperfServerCmd, prepareIperfServerCmd, killIperfCmd)
	rootCmd.AddCommand(multiCmd)
}

var multiCmd = &cobra.Command{
	Use:   "multi",
	Short: "Network diagnostics from this host",
}

func newMulti(cmd *cobra.Command) *multi.Multi {
	return multi.New(multi.Config{Workers: workers, Logger: logger(cmd)})
}

var pingCmd = &cobra.Command{
	Use:   "ping host...",
	Short: "Ping every host once and summarize",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printYAML(cmd.OutOrStdout(), newMulti(cmd).Ping(cmd.Context(), args...))
	},
}

var jumboPingCmd = &cobra.Command{
	Use:   "jumbo-ping host...",
	Short: "Send one unfragmented jumbo frame to every host and summarize",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printYAML(cmd.OutOrStdout(), newMulti(cmd).JumboPing(cmd.Context(), args...))
	},
}

var iperfCmd = &cobra.Command{
	Use:   "iperf server",
	Short: "Measure bandwidth to an iperf3 server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printYAML(cmd.OutOrStdout(), newMulti(cmd).Iperf(cmd.Context(), args[0], iperfCPU, iperfPort))
	},
}

var iperfServerCmd = &cobra.Command{
	Use:   "iperf-server",
	Short: "Start a daemonized iperf3 server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := newMulti(cmd).IperfServerCmd(iperfCPU, iperfPort)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), msg)
		return nil
	},
}

var prepareIperfServerCmd = &cobra.Command{
	Use:   "prepare-iperf-server",
	Short: "Start one iperf3 server per CPU on consecutive ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := newMulti(cmd).PrepareIperfServer()
		fmt.Fprint(cmd.OutOrStdout(), msg)
		return err
	},
}

var killIperfCmd = &cobra.Command{
	Use:   "kill-iperf",
	Short: "Stop the iperf3 servers started by iperf-server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return newMulti(cmd).KillIperfCmd()
	},
}
