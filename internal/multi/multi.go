// Package multi runs point to point network diagnostics (ping, iperf3)
// from this host against a list of peers in parallel.
package multi

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/agentic-research/pillarctl/api"
)

// DefaultIperfPort is the port of the iperf3 server pinned to CPU 0.
const DefaultIperfPort = 5200

// Config configures Multi.
type Config struct {
	// Runner defaults to ExecRunner.
	Runner Runner
	// Workers bounds the parallel commands; defaults to DefaultWorkers.
	Workers int
	// CPUs is the number of iperf3 servers PrepareIperfServer starts;
	// defaults to the available CPUs.
	CPUs int
	// Hostname reports local errors; defaults to os.Hostname.
	Hostname string
	// LookPath finds iperf3; defaults to exec.LookPath.
	LookPath func(file string) (string, error)
	Logger   *zap.Logger
}

// Multi dispatches diagnostic commands.
type Multi struct {
	runner    Runner
	workers   int
	cpus      int
	hostname  string
	iperfPath string
	logger    *zap.Logger
}

// New creates a Multi. iperf3 is looked up once, a missing binary only
// fails the iperf operations.
func New(config Config) *Multi {
	m := &Multi{
		runner:   config.Runner,
		workers:  config.Workers,
		cpus:     config.CPUs,
		hostname: config.Hostname,
		logger:   config.Logger,
	}
	if m.runner == nil {
		m.runner = ExecRunner{}
	}
	if m.workers <= 0 {
		m.workers = DefaultWorkers()
	}
	if m.cpus <= 0 {
		m.cpus = availableCPUs()
	}
	if m.hostname == "" {
		m.hostname, _ = os.Hostname()
	}
	if m.logger == nil {
		m.logger = zap.L()
	}
	lookPath := config.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if p, err := lookPath("iperf3"); err == nil {
		m.iperfPath = p
	}
	return m
}

// Workers returns the pool size.
func (m *Multi) Workers() int {
	return m.workers
}

// PingCmd sends one packet to host.
func (m *Multi) PingCmd(ctx context.Context, host string) Result {
	m.logger.Debug("ping", zap.String("host", host))
	return m.run(ctx, host, "ping", "-c1", "-q", "-W1", host)
}

// JumboPingCmd sends one unfragmented 9000 byte frame to host.
func (m *Multi) JumboPingCmd(ctx context.Context, host string) Result {
	m.logger.Debug("jumbo ping", zap.String("host", host))
	return m.run(ctx, host, "ping", "-Mdo", "-s8972", "-c1", "-q", "-W1", host)
}

// Ping pings every host and summarizes the results.
func (m *Multi) Ping(ctx context.Context, hosts ...string) api.PingSummary {
	return m.all(ctx, "ping", hosts, m.PingCmd)
}

// JumboPing jumbo-pings every host and summarizes the results.
func (m *Multi) JumboPing(ctx context.Context, hosts ...string) api.PingSummary {
	return m.all(ctx, "jumbo_ping", hosts, m.JumboPingCmd)
}

func (m *Multi) all(ctx context.Context, op string, hosts []string, fn func(context.Context, string) Result) api.PingSummary {
	logger := m.logger.With(zap.String("operation", op))
	logger.Debug("dispatching", zap.Strings("hosts", hosts), zap.Int("workers", m.workers))
	summary := SummarizePing(Map(ctx, m.workers, hosts, fn))
	logger.Debug("summary", zap.Int("succeeded", summary.Succeeded), zap.Float64("avg", summary.Avg))
	return summary
}

// IperfClientCmd runs a ten second iperf3 test against server with the
// client pinned to cpu. An empty server or a missing iperf3 is reported
// as an errored result for the local host without running anything.
func (m *Multi) IperfClientCmd(ctx context.Context, server string, cpu, port int) Result {
	if server == "" {
		return Result{Host: m.hostname, Code: CodeErrored, Stdout: "0", Stderr: "Server name is empty"}
	}
	if m.iperfPath == "" {
		return Result{Host: m.hostname, Code: CodeErrored, Stdout: "0", Stderr: "iperf3 not found in path, please install"}
	}
	return m.run(ctx, server, m.iperfPath,
		"-fm", "-A"+strconv.Itoa(cpu), "-t10", "-c"+server, "-p"+strconv.Itoa(port))
}

// Iperf runs IperfClientCmd and summarizes it.
func (m *Multi) Iperf(ctx context.Context, server string, cpu, port int) api.IperfSummary {
	m.logger.Debug("iperf", zap.String("server", server), zap.Int("cpu", cpu), zap.Int("port", port))
	return SummarizeIperf(m.IperfClientCmd(ctx, server, cpu, port))
}

// IperfServerCmd starts a daemonized iperf3 server pinned to cpu. The
// trailing "salt" argument tags the process for KillIperfCmd.
func (m *Multi) IperfServerCmd(cpu, port int) (string, error) {
	if m.iperfPath == "" {
		return m.hostname + ": iperf3 not found in path, please install", nil
	}
	args := []string{"-s", "-D", "-A" + strconv.Itoa(cpu), "-p" + strconv.Itoa(port), "--", "salt"}
	m.logger.Debug("iperf server", zap.Strings("args", args))
	if err := m.runner.Start(m.iperfPath, args...); err != nil {
		return "", fmt.Errorf("start iperf3 server on cpu %d: %w", cpu, err)
	}
	return fmt.Sprintf("%s: iperf3 started at cpu %d port %d\n", m.hostname, cpu, port), nil
}

// PrepareIperfServer starts one iperf3 server per CPU, on
// DefaultIperfPort plus the CPU number.
func (m *Multi) PrepareIperfServer() (string, error) {
	var b strings.Builder
	for cpu := range m.cpus {
		msg, err := m.IperfServerCmd(cpu, DefaultIperfPort+cpu)
		if err != nil {
			return b.String(), err
		}
		b.WriteString(msg)
	}
	return b.String(), nil
}

// KillIperfCmd stops every iperf3 server started by IperfServerCmd.
func (m *Multi) KillIperfCmd() error {
	m.logger.Debug("killing iperf3 servers")
	if err := m.runner.Start("pkill", "-f", "iperf3.*salt"); err != nil {
		return fmt.Errorf("pkill iperf3: %w", err)
	}
	return nil
}

func (m *Multi) run(ctx context.Context, host, name string, args ...string) Result {
	res := m.runner.Run(ctx, name, args...)
	res.Host = host
	return res
}
