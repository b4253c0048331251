package stemcell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// VMDriver creates, exports and destroys the named build VM. The VM is
// tracked by name only; existence and force semantics belong to the tool.
type VMDriver interface {
	Build(ctx context.Context, name string) error
	Export(ctx context.Context, name string) error
	Destroy(ctx context.Context, name string) error
}

// DomainReaper removes whatever the hypervisor still holds for a VM after
// the build tool's own destroy ran.
type DomainReaper interface {
	Reap(name string) error
}

// Ensure VeeweeDriver satisfies the driver interface.
var _ VMDriver = (*VeeweeDriver)(nil)

// VeeweeDriver drives veewee for build/destroy and vagrant for export.
type VeeweeDriver struct {
	Provider string
	// Dir is where veewee finds definitions/ and where the box is written.
	Dir    string
	Runner Runner
	Reaper DomainReaper
	Logger *slog.Logger
}

func (d *VeeweeDriver) logger() *slog.Logger {
	if d != nil && d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *VeeweeDriver) provider() string {
	if d.Provider == "" {
		return DefaultProvider
	}
	return d.Provider
}

func (d *VeeweeDriver) veewee(args ...string) Command {
	return Command{Name: "veewee", Args: append([]string{d.provider()}, args...), Dir: d.Dir}
}

// Build implements VMDriver.
func (d *VeeweeDriver) Build(ctx context.Context, name string) error {
	if err := d.Runner.Run(ctx, d.veewee("build", name, "--force", "--nogui", "--auto")); err != nil {
		return fmt.Errorf("unable to build vm %s: %w", name, err)
	}
	return nil
}

// Export implements VMDriver.
func (d *VeeweeDriver) Export(ctx context.Context, name string) error {
	cmd := Command{Name: "vagrant", Args: []string{"basebox", "export", name, "--force"}, Dir: d.Dir}
	if err := d.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("unable to export vm %s: %w", name, err)
	}
	return nil
}

// Destroy implements VMDriver. The reaper runs even when veewee fails.
func (d *VeeweeDriver) Destroy(ctx context.Context, name string) error {
	var errs error
	if err := d.Runner.Run(ctx, d.veewee("destroy", name, "--force", "--nogui")); err != nil {
		errs = errors.Join(errs, fmt.Errorf("veewee destroy %s: %w", name, err))
	}
	if d.Reaper != nil {
		d.logger().Debug("reaping hypervisor domain", "name", name, "provider", d.provider())
		if err := d.Reaper.Reap(name); err != nil {
			errs = errors.Join(errs, fmt.Errorf("reap domain %s: %w", name, err))
		}
	}
	return errs
}
