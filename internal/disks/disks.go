// Package disks resolves which minions a DriveGroup applies to and asks
// them which of their disks match the DriveGroup filters.
package disks

import (
	"context"
	"errors"
	"fmt"

	"github.com/ohler55/ojg/jp"
	"go.uber.org/zap"

	"github.com/agentic-research/pillarctl/internal/salt"
)

var (
	// ErrNoMinionsFound means no DeepSea minions, or no hosts behind a
	// target, could be determined.
	ErrNoMinionsFound = errors.New("no minions found")
	// ErrNoTargetFound means the drive_group pillar has no usable target.
	ErrNoTargetFound = errors.New("no target found")
)

const driveGroupPillar = "drive_group"

var targetPath = jp.C("target")

// MinionLister returns the target expression selecting all DeepSea
// minions.
type MinionLister interface {
	Minions(ctx context.Context) (string, error)
}

// StaticMinions is a fixed minion target.
type StaticMinions string

// Minions implements MinionLister.
func (s StaticMinions) Minions(context.Context) (string, error) {
	return string(s), nil
}

// Runner runs master-side salt runner functions.
type Runner interface {
	RunnerCmd(ctx context.Context, fun string, args ...any) (any, error)
}

// RunnerMinions asks the master via deepsea_minions.show.
type RunnerMinions struct {
	Runner Runner
}

// Minions implements MinionLister.
func (r RunnerMinions) Minions(ctx context.Context) (string, error) {
	raw, err := r.Runner.RunnerCmd(ctx, "deepsea_minions.show")
	if err != nil {
		return "", fmt.Errorf("deepsea_minions.show: %w", err)
	}
	switch t := raw.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	default:
		return "", &salt.ReturnError{Call: "salt-run deepsea_minions.show", Reason: fmt.Sprintf("expected a string, got %T", raw)}
	}
}

// Config configures Base and DriveGroups.
type Config struct {
	Client  salt.Client
	Minions MinionLister
	Logger  *zap.Logger
}

// Base holds the salt client and the DeepSea minion target.
type Base struct {
	client  salt.Client
	minions string
	logger  *zap.Logger
}

// NewBase resolves the DeepSea minion target. An empty target is
// ErrNoMinionsFound.
func NewBase(ctx context.Context, config Config) (*Base, error) {
	b := &Base{client: config.Client, logger: config.Logger}
	if b.logger == nil {
		b.logger = zap.L()
	}

	minions, err := config.Minions.Minions(ctx)
	if err != nil {
		return nil, err
	}
	if minions == "" {
		return nil, ErrNoMinionsFound
	}
	b.minions = minions
	return b, nil
}

// Minions returns the DeepSea minion target.
func (b *Base) Minions() string {
	return b.minions
}

// driveGroup fetches the drive_group pillar of the first DeepSea minion.
func (b *Base) driveGroup(ctx context.Context) (salt.Call, map[string]any, error) {
	call := salt.Call{
		Target:   b.minions,
		Fun:      "pillar.get",
		Args:     []any{driveGroupPillar},
		ExprForm: salt.Compound,
	}
	raw, err := b.client.Cmd(ctx, call)
	if err != nil {
		return call, nil, err
	}
	hosts, err := salt.DecodeHosts(call, raw)
	if err != nil {
		return call, nil, err
	}
	host, first := hosts.First()
	dg, err := salt.DecodeMapping(call, host, first)
	if err != nil {
		return call, nil, err
	}
	return call, dg, nil
}

// CompoundTarget returns the 'target' of the drive_group pillar, the
// compound expression that identifies the OSD nodes.
func (b *Base) CompoundTarget(ctx context.Context) (string, error) {
	_, dg, err := b.driveGroup(ctx)
	if err != nil {
		return "", err
	}
	if target, ok := targetPath.First(dg).(string); ok && target != "" {
		b.logger.Debug("drive group target", zap.String("target", target))
		return target, nil
	}
	return "", fmt.Errorf("%w: could not find a 'target' in the drive_group definition, please refer to the documentation", ErrNoTargetFound)
}

// ResolvedTargets returns the minion ids behind the compound target.
func (b *Base) ResolvedTargets(ctx context.Context) ([]string, error) {
	target, err := b.CompoundTarget(ctx)
	if err != nil {
		return nil, err
	}
	call := salt.Call{Target: target, Fun: "test.ping", ExprForm: salt.Compound}
	raw, err := b.client.Cmd(ctx, call)
	if err != nil {
		return nil, err
	}
	hosts, err := salt.DecodeHosts(call, raw)
	if err != nil {
		return nil, err
	}
	names := hosts.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: could not determine hosts from identifier %s", ErrNoMinionsFound, target)
	}
	return names, nil
}

// DriveGroups asks the target minions for the disks matching the
// drive_group filters.
type DriveGroups struct {
	*Base
}

// NewDriveGroups creates a DriveGroups.
func NewDriveGroups(ctx context.Context, config Config) (*DriveGroups, error) {
	base, err := NewBase(ctx, config)
	if err != nil {
		return nil, err
	}
	return &DriveGroups{Base: base}, nil
}

// FilterArgs returns the drive_group pillar passed to the minions.
func (d *DriveGroups) FilterArgs(ctx context.Context) (map[string]any, error) {
	_, dg, err := d.driveGroup(ctx)
	return dg, err
}

// CallOut runs dg.test on the target minions.
func (d *DriveGroups) CallOut(ctx context.Context) (salt.Hosts, error) {
	target, err := d.CompoundTarget(ctx)
	if err != nil {
		return nil, err
	}
	args, err := d.FilterArgs(ctx)
	if err != nil {
		return nil, err
	}
	call := salt.Call{
		Target:   target,
		Fun:      "dg.test",
		Kwargs:   map[string]any{"filter_args": args},
		ExprForm: salt.Compound,
	}
	raw, err := d.client.Cmd(ctx, call)
	if err != nil {
		return nil, err
	}
	return salt.DecodeHosts(call, raw)
}

// Test resolves the DriveGroup and returns the per-minion matching disks.
func Test(ctx context.Context, config Config) (salt.Hosts, error) {
	dg, err := NewDriveGroups(ctx, config)
	if err != nil {
		return nil, err
	}
	return dg.CallOut(ctx)
}
