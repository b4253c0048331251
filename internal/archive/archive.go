// Package archive creates and unpacks the tarballs that move through a
// stemcell build: the exported box, the generic image, the package compiler
// bundle and the final stemcell.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Tool is the default archiver used by the pipeline.
type Tool struct{}

// Create writes a gzip-compressed tarball at target.
func (Tool) Create(prefix, target string, members ...string) error {
	return Create(prefix, target, members...)
}

// Extract unpacks src into dest.
func (Tool) Extract(src, dest string) error {
	return Extract(src, dest)
}

// Create writes a gzip-compressed tarball at target containing members,
// which are resolved relative to prefix and stored under those relative
// names. Directory members are added recursively.
func Create(prefix, target string, members ...string) error {
	return create(prefix, target, true, members)
}

// CreatePlain is like Create but writes an uncompressed tarball.
func CreatePlain(prefix, target string, members ...string) error {
	return create(prefix, target, false, members)
}

func create(prefix, target string, compress bool, members []string) (err error) {
	if len(members) == 0 {
		return errors.New("archive: no members to package")
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", target, err)
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("close archive %s: %w", target, cErr)
		}
		if err != nil {
			_ = os.Remove(target)
		}
	}()

	var w io.Writer = out
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(out)
		w = gz
	}

	tw := tar.NewWriter(w)
	for _, member := range members {
		if err := addMember(tw, prefix, member); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize tar %s: %w", target, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("finalize gzip %s: %w", target, err)
		}
	}
	return nil
}

func addMember(tw *tar.Writer, prefix, member string) error {
	root := member
	if !filepath.IsAbs(root) {
		root = filepath.Join(prefix, member)
	}

	info, err := os.Lstat(root)
	if err != nil {
		return fmt.Errorf("stat member %s: %w", member, err)
	}
	if !info.IsDir() {
		return writeEntry(tw, root, relName(prefix, root, member), info)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return writeEntry(tw, path, relName(prefix, path, path), info)
	})
}

func relName(prefix, path, fallback string) string {
	rel, err := filepath.Rel(prefix, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(fallback)
	}
	return filepath.ToSlash(rel)
}

func writeEntry(tw *tar.Writer, path, name string, info fs.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("archive: symlinks are not supported (%s)", path)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("tar header for %s: %w", path, err)
	}
	hdr.Name = name
	if info.IsDir() {
		if name == "." {
			return nil
		}
		hdr.Name = name + "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write tar body %s: %w", name, err)
	}
	return nil
}

// Extract unpacks the tarball at src into dest, creating dest if needed.
// Gzip compression is detected from the stream header.
func Extract(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", src, err)
	}
	defer f.Close()

	tr, closeFn, err := newReader(f)
	if err != nil {
		return fmt.Errorf("read archive %s: %w", src, err)
	}
	defer closeFn()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create extract dir %s: %w", dest, err)
	}

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive %s: %w", src, err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr, fs.FileMode(hdr.Mode).Perm()); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		default:
			// links and devices never appear in box or image archives
		}
	}
}

// List returns the member names of the tarball at src in archive order.
func List(src string) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", src, err)
	}
	defer f.Close()

	tr, closeFn, err := newReader(f)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", src, err)
	}
	defer closeFn()

	var names []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read archive %s: %w", src, err)
		}
		names = append(names, hdr.Name)
	}
}

// ReadMember returns the contents of a single regular-file member.
func ReadMember(src, name string) ([]byte, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", src, err)
	}
	defer f.Close()

	tr, closeFn, err := newReader(f)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", src, err)
	}
	defer closeFn()

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("member %s not found in %s", name, src)
		}
		if err != nil {
			return nil, fmt.Errorf("read archive %s: %w", src, err)
		}
		if hdr.Name == name {
			return io.ReadAll(tr)
		}
	}
}

func newReader(r io.Reader) (*tar.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, err
	}
	if bytes.Equal(head, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return tar.NewReader(gz), func() { _ = gz.Close() }, nil
	}
	return tar.NewReader(br), func() {}, nil
}

func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive member %q escapes %s", name, dest)
	}
	return target, nil
}

func writeFile(path string, r io.Reader, perm fs.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
