package multi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentic-research/pillarctl/api"
)

func pingOutput(avg string) string {
	return "--- node ping statistics ---\n" +
		"1 packets transmitted, 1 received, 0% packet loss, time 0ms\n" +
		"rtt min/avg/max/mdev = " + avg + "/" + avg + "/" + avg + "/0.000 ms\n"
}

const iperfOutput = `Connecting to host node1, port 5200
[  5] local 10.0.0.2 port 40000 connected to 10.0.0.1 port 5200
[ ID] Interval           Transfer     Bitrate         Retr
[  5]   0.00-10.00  sec  1.10 GBytes   943 Mbits/sec    0             sender
[  5]   0.00-10.00  sec  1.09 GBytes   940 Mbits/sec                  receiver

iperf Done.
`

type call struct {
	name string
	args []string
}

// fakeRunner answers Run by the last argument (the host) and records
// every invocation.
type fakeRunner struct {
	mu       sync.Mutex
	results  map[string]Result
	runs     []call
	starts   []call
	startErr error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, call{name: name, args: args})
	return f.results[args[len(args)-1]]
}

func (f *fakeRunner) Start(name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, call{name: name, args: args})
	return f.startErr
}

func newMulti(r Runner, iperf bool) *Multi {
	return New(Config{
		Runner:   r,
		Workers:  3,
		CPUs:     2,
		Hostname: "admin",
		Logger:   zap.NewNop(),
		LookPath: func(file string) (string, error) {
			if !iperf {
				return "", errors.New("not found")
			}
			return "/usr/bin/" + file, nil
		},
	})
}

func TestPing(t *testing.T) {
	r := &fakeRunner{results: map[string]Result{
		"node1": {Code: CodeSucceeded, Stdout: pingOutput("1.000")},
		"node2": {Code: CodeSucceeded, Stdout: pingOutput("1.000")},
		"node3": {Code: CodeSucceeded, Stdout: pingOutput("10.000")},
		"node4": {Code: CodeFailed},
		"node5": {Code: CodeErrored},
	}}
	m := newMulti(r, true)

	got := m.Ping(context.Background(), "node1", "node2", "node3", "node4", "node5")
	assert.Equal(t, api.PingSummary{
		Succeeded: 3,
		Failed:    "node4",
		Errored:   "node5",
		Slow:      "node3",
		Avg:       4,
	}, got)

	require.Len(t, r.runs, 5)
	for _, c := range r.runs {
		assert.Equal(t, "ping", c.name)
		assert.Equal(t, []string{"-c1", "-q", "-W1"}, c.args[:3])
	}
}

func TestJumboPing(t *testing.T) {
	r := &fakeRunner{results: map[string]Result{
		"node1": {Code: CodeSucceeded, Stdout: pingOutput("0.045")},
	}}
	m := newMulti(r, true)

	got := m.JumboPing(context.Background(), "node1")
	assert.Equal(t, 1, got.Succeeded)
	assert.InDelta(t, 0.045, got.Avg, 1e-9)
	assert.Empty(t, got.Slow)
	assert.Equal(t, []string{"-Mdo", "-s8972", "-c1", "-q", "-W1", "node1"}, r.runs[0].args)
}

func TestSummarizePing_NoSlowWithTwoSamples(t *testing.T) {
	got := SummarizePing([]Result{
		{Host: "a", Code: CodeSucceeded, Stdout: pingOutput("1.000")},
		{Host: "b", Code: CodeSucceeded, Stdout: pingOutput("100.000")},
	})
	assert.Empty(t, got.Slow)
	assert.InDelta(t, 50.5, got.Avg, 1e-9)
}

func TestSummarizePing_NoRTT(t *testing.T) {
	got := SummarizePing([]Result{{Host: "a", Code: CodeSucceeded, Stdout: "garbage"}})
	assert.Equal(t, api.PingSummary{Succeeded: 1}, got)
}

func TestIperf(t *testing.T) {
	r := &fakeRunner{results: map[string]Result{
		"-p5201": {Code: CodeSucceeded, Stdout: iperfOutput},
	}}
	m := newMulti(r, true)

	got := m.Iperf(context.Background(), "node1", 1, 5201)
	assert.Equal(t, "node1", got.Server)
	assert.True(t, got.Succeeded)
	assert.False(t, got.Failed)
	assert.Equal(t, "940 Mbits/sec", got.Filter)
	assert.Equal(t, iperfOutput, got.Speed)

	assert.Equal(t, call{
		name: "/usr/bin/iperf3",
		args: []string{"-fm", "-A1", "-t10", "-cnode1", "-p5201"},
	}, r.runs[0])
}

func TestSummarizeIperf(t *testing.T) {
	got := SummarizeIperf(Result{Host: "node1", Code: CodeSucceeded, Stdout: "no summary"})
	assert.Equal(t, NoBandwidth, got.Filter)

	assert.Equal(t, api.IperfSummary{Server: "node1", Failed: true}, SummarizeIperf(Result{Host: "node1", Code: CodeFailed}))
	assert.Equal(t, api.IperfSummary{Server: "node1", Errored: true}, SummarizeIperf(Result{Host: "node1", Code: CodeErrored}))
}

func TestIperfClientCmd_LocalErrors(t *testing.T) {
	r := &fakeRunner{}

	res := newMulti(r, true).IperfClientCmd(context.Background(), "", 0, DefaultIperfPort)
	assert.Equal(t, Result{Host: "admin", Code: CodeErrored, Stdout: "0", Stderr: "Server name is empty"}, res)

	res = newMulti(r, false).IperfClientCmd(context.Background(), "node1", 0, DefaultIperfPort)
	assert.Equal(t, CodeErrored, res.Code)
	assert.Equal(t, "admin", res.Host)
	assert.Contains(t, res.Stderr, "iperf3 not found")

	assert.Empty(t, r.runs)
}

func TestPrepareIperfServer(t *testing.T) {
	r := &fakeRunner{}
	m := newMulti(r, true)

	out, err := m.PrepareIperfServer()
	require.NoError(t, err)
	assert.Equal(t, "admin: iperf3 started at cpu 0 port 5200\nadmin: iperf3 started at cpu 1 port 5201\n", out)
	assert.Equal(t, []call{
		{name: "/usr/bin/iperf3", args: []string{"-s", "-D", "-A0", "-p5200", "--", "salt"}},
		{name: "/usr/bin/iperf3", args: []string{"-s", "-D", "-A1", "-p5201", "--", "salt"}},
	}, r.starts)
}

func TestIperfServerCmd_Errors(t *testing.T) {
	msg, err := newMulti(&fakeRunner{}, false).IperfServerCmd(0, DefaultIperfPort)
	require.NoError(t, err)
	assert.Equal(t, "admin: iperf3 not found in path, please install", msg)

	boom := errors.New("boom")
	_, err = newMulti(&fakeRunner{startErr: boom}, true).PrepareIperfServer()
	assert.ErrorIs(t, err, boom)
}

func TestKillIperfCmd(t *testing.T) {
	r := &fakeRunner{}
	require.NoError(t, newMulti(r, true).KillIperfCmd())
	assert.Equal(t, []call{{name: "pkill", args: []string{"-f", "iperf3.*salt"}}}, r.starts)
}

func TestMap_OrderAndLimit(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	var inFlight, peak atomic.Int32
	out := Map(context.Background(), 4, items, func(_ context.Context, i int) string {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return fmt.Sprint(i)
	})

	require.Len(t, out, 50)
	assert.Equal(t, "0", out[0])
	assert.Equal(t, "49", out[49])
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestDefaultWorkers(t *testing.T) {
	assert.Equal(t, 0, DefaultWorkers()%WorkersPerCPU)
	assert.GreaterOrEqual(t, DefaultWorkers(), WorkersPerCPU)
}

func TestExecRunner(t *testing.T) {
	ctx := context.Background()

	ok := ExecRunner{}.Run(ctx, "sh", "-c", "echo hi")
	assert.Equal(t, CodeSucceeded, ok.Code)
	assert.Equal(t, "hi", strings.TrimSpace(ok.Stdout))

	fail := ExecRunner{}.Run(ctx, "sh", "-c", "exit 1")
	assert.Equal(t, CodeFailed, fail.Code)

	missing := ExecRunner{}.Run(ctx, "/nonexistent/ping")
	assert.Equal(t, CodeErrored, missing.Code)
	assert.NotEmpty(t, missing.Stderr)
}
