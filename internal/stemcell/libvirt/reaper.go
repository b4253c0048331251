// Package libvirt removes leftover build domains for the kvm provider.
package libvirt

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/cochaviz/stemcell/internal/logging"

	"libvirt.org/go/libvirt"
)

// DefaultConnectURI is the hypervisor veewee's kvm provider talks to.
const DefaultConnectURI = "qemu:///system"

// DomainReaper destroys and undefines a domain by name. A domain that is
// already gone is not an error.
type DomainReaper struct {
	ConnectURI string
	Logger     *slog.Logger
}

func NewDomainReaper(connectURI string, logger *slog.Logger) *DomainReaper {
	if connectURI == "" {
		connectURI = DefaultConnectURI
	}
	return &DomainReaper{
		ConnectURI: connectURI,
		Logger:     logging.Ensure(logger).With("component", "libvirt-reaper"),
	}
}

func (r *DomainReaper) Reap(name string) error {
	conn, err := libvirt.NewConnect(r.ConnectURI)
	if err != nil {
		return err
	}
	defer conn.Close()

	domain, err := conn.LookupDomainByName(name)
	if err != nil {
		if isInLibvirtErrors(err, libvirt.ERR_NO_DOMAIN) {
			logging.Ensure(r.Logger).Debug("domain already gone", "domain", name)
			return nil
		}
		return err
	}
	defer domain.Free()

	active, err := domain.IsActive()
	if err == nil && active {
		if err := domain.Destroy(); err != nil {
			if !isInLibvirtErrors(err, libvirt.ERR_OPERATION_INVALID, libvirt.ERR_NO_DOMAIN) {
				return err
			}
		}
	}

	if err := domain.Undefine(); err != nil {
		if isInLibvirtErrors(err, libvirt.ERR_NO_DOMAIN) {
			return nil
		}
		return err
	}

	logging.Ensure(r.Logger).Debug("domain reaped", "domain", name, "uri", r.ConnectURI)
	return nil
}

func isInLibvirtErrors(err error, codes ...libvirt.ErrorNumber) bool {
	if err == nil {
		return false
	}

	var libErr libvirt.Error
	if !errors.As(err, &libErr) {
		return false
	}

	return slices.Contains(codes, libErr.Code)
}
