package libvirt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"libvirt.org/go/libvirt"
)

func TestNewDomainReaperDefaultsURI(t *testing.T) {
	r := NewDomainReaper("", nil)
	assert.Equal(t, DefaultConnectURI, r.ConnectURI)
	assert.NotNil(t, r.Logger)

	r = NewDomainReaper("qemu:///session", nil)
	assert.Equal(t, "qemu:///session", r.ConnectURI)
}

func TestIsInLibvirtErrors(t *testing.T) {
	noDomain := libvirt.Error{Code: libvirt.ERR_NO_DOMAIN, Message: "no domain"}

	assert.True(t, isInLibvirtErrors(noDomain, libvirt.ERR_NO_DOMAIN))
	assert.True(t, isInLibvirtErrors(fmt.Errorf("lookup: %w", noDomain), libvirt.ERR_OPERATION_INVALID, libvirt.ERR_NO_DOMAIN))
	assert.False(t, isInLibvirtErrors(noDomain, libvirt.ERR_OPERATION_INVALID))
	assert.False(t, isInLibvirtErrors(errors.New("plain"), libvirt.ERR_NO_DOMAIN))
	assert.False(t, isInLibvirtErrors(nil, libvirt.ERR_NO_DOMAIN))
}
