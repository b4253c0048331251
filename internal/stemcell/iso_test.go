package stemcell

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kdomanski/iso9660"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeISO(t *testing.T, path string) string {
	t.Helper()

	writer, err := iso9660.NewWriter()
	require.NoError(t, err)
	defer writer.Cleanup()

	require.NoError(t, writer.AddFile(strings.NewReader("minimal install"), "README.TXT"))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	out, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, writer.WriteTo(out, "CENTOS"))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func isoConfig(prefix, md5sum string) Config {
	return Config{
		Prefix: prefix,
		ISO:    ISO{URL: "http://mirror/centos.iso", MD5: md5sum, Filename: "centos.iso"},
	}
}

func TestVerifyLocalISO(t *testing.T) {
	t.Parallel()

	prefix := t.TempDir()
	sum := writeISO(t, filepath.Join(prefix, ISODir, "centos.iso"))

	require.NoError(t, VerifyLocalISO(isoConfig(prefix, sum), discardLogger()))
	require.NoError(t, VerifyLocalISO(isoConfig(prefix, strings.ToUpper(sum)), discardLogger()))
}

func TestVerifyLocalISOChecksumMismatch(t *testing.T) {
	t.Parallel()

	prefix := t.TempDir()
	writeISO(t, filepath.Join(prefix, ISODir, "centos.iso"))

	err := VerifyLocalISO(isoConfig(prefix, "087713752fa88c03a5e8471c661ad1a2"), discardLogger())
	require.ErrorIs(t, err, ErrISOChecksumMismatch)
}

func TestVerifyLocalISOAbsentOrUnconfigured(t *testing.T) {
	t.Parallel()

	require.NoError(t, VerifyLocalISO(isoConfig(t.TempDir(), "abc"), discardLogger()))
	require.NoError(t, VerifyLocalISO(Config{Prefix: t.TempDir()}, discardLogger()))
}

func TestVerifyLocalISORejectsNonISO(t *testing.T) {
	t.Parallel()

	prefix := t.TempDir()
	path := writeFile(t, filepath.Join(prefix, ISODir, "centos.iso"), "definitely not an iso")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := md5.Sum(data)

	err = VerifyLocalISO(isoConfig(prefix, hex.EncodeToString(sum[:])), discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read iso")
}
