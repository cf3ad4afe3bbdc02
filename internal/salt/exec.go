package salt

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"github.com/ohler55/ojg/oj"
	"go.uber.org/zap"
)

// ExecConfig configures an ExecClient.
type ExecConfig struct {
	// SaltBin and RunBin default to "salt" and "salt-run".
	SaltBin string
	RunBin  string
	Logger  *zap.Logger
}

// ExecClient runs calls through the salt command line tools with JSON
// output.
type ExecClient struct {
	saltBin string
	runBin  string
	logger  *zap.Logger
}

// NewExecClient creates an ExecClient.
func NewExecClient(config ExecConfig) *ExecClient {
	c := &ExecClient{saltBin: config.SaltBin, runBin: config.RunBin, logger: config.Logger}
	if c.saltBin == "" {
		c.saltBin = "salt"
	}
	if c.runBin == "" {
		c.runBin = "salt-run"
	}
	if c.logger == nil {
		c.logger = zap.L()
	}
	return c
}

// Cmd implements Client.
func (c *ExecClient) Cmd(ctx context.Context, call Call) (any, error) {
	return c.run(ctx, c.saltBin, CmdArgs(call))
}

// RunnerCmd runs a master-side runner function, e.g. deepsea_minions.show.
func (c *ExecClient) RunnerCmd(ctx context.Context, fun string, args ...any) (any, error) {
	argv := []string{"--out=json", fun}
	for _, a := range args {
		argv = append(argv, argString(a))
	}
	return c.run(ctx, c.runBin, argv)
}

func (c *ExecClient) run(ctx context.Context, bin string, argv []string) (any, error) {
	c.logger.Debug("exec", zap.String("bin", bin), zap.Strings("args", argv))

	cmd := exec.CommandContext(ctx, bin, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	// salt exits non-zero when some minions did not answer but still
	// prints the returns it has.
	out := strings.TrimSpace(stdout.String())
	if out == "" {
		if runErr != nil {
			return nil, fmt.Errorf("%s %s: %w: %s", bin, strings.Join(argv, " "), runErr, strings.TrimSpace(stderr.String()))
		}
		return nil, nil
	}
	v, err := oj.ParseString(out)
	if err != nil {
		return nil, fmt.Errorf("%s %s: parse output: %w", bin, strings.Join(argv, " "), err)
	}
	return v, nil
}

// CmdArgs builds the salt argument vector for a call.
func CmdArgs(call Call) []string {
	argv := []string{"--out=json", "--static"}
	if call.ExprForm == Compound {
		argv = append(argv, "-C")
	}
	argv = append(argv, call.Target, call.Fun)
	for _, a := range call.Args {
		argv = append(argv, argString(a))
	}

	keys := make([]string, 0, len(call.Kwargs))
	for k := range call.Kwargs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		argv = append(argv, k+"="+argString(call.Kwargs[k]))
	}
	return argv
}

// argString renders strings verbatim and everything else as JSON, which
// salt parses back into the matching type.
func argString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return oj.JSON(v, &oj.Options{Sort: true})
}
