package stemcell

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// RenderContext is everything a definition template can reference.
type RenderContext struct {
	Name           string
	Type           string
	Infrastructure string
	Architecture   string
	AgentVersion   string
	BoshProtocol   string
	ISO            string
	ISOMD5         string
	ISOFilename    string
	// Extra holds variant specific values, e.g. payload file names.
	Extra map[string]string
}

// RenderContext returns the template binding for cfg.
func (c Config) RenderContext() RenderContext {
	return RenderContext{
		Name:           c.Name,
		Type:           string(c.Type),
		Infrastructure: c.Infrastructure,
		Architecture:   c.Architecture.String(),
		AgentVersion:   c.AgentVersion,
		BoshProtocol:   c.BoshProtocol,
		ISO:            c.ISO.URL,
		ISOMD5:         c.ISO.MD5,
		ISOFilename:    c.ISO.Filename,
		Extra:          map[string]string{},
	}
}

// sprig functions whose output depends on the clock, randomness or the host.
var nondeterministicFuncs = []string{
	"now", "date", "dateInZone", "date_in_zone", "dateModify", "date_modify",
	"mustDateModify", "must_date_modify", "ago", "toDate", "mustToDate",
	"unixEpoch", "htmlDate", "htmlDateInZone",
	"randAlpha", "randAlphaNum", "randAscii", "randNumeric", "randBytes", "randInt",
	"shuffle", "uuidv4", "encryptAES",
	"genPrivateKey", "genCA", "genCAWithKey", "genSelfSignedCert", "genSelfSignedCertWithKey",
	"genSignedCert", "genSignedCertWithKey", "derivePassword", "bcrypt", "htpasswd",
	"env", "expandenv", "getHostByName",
}

func templateFuncs() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	for _, name := range nondeterministicFuncs {
		delete(funcs, name)
	}
	return funcs
}

// StageDefinitions recursively copies the contents of templateDir into
// destDir, creating destDir if needed.
func StageDefinitions(templateDir, destDir string) error {
	info, err := os.Stat(templateDir)
	if err != nil {
		return fmt.Errorf("stat template dir %q: %w", templateDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("template path %q is not a directory", templateDir)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create definition dir %q: %w", destDir, err)
	}
	return copyDirectoryContents(templateDir, destDir)
}

// RenderTemplates renders every *.tmpl file below destDir in place: the
// output is written next to the source without the extension and the
// source is removed. Files are processed in lexical order and the first
// failure stops rendering; files already rendered stay rendered.
func RenderTemplates(destDir string, rc RenderContext) ([]string, error) {
	var sources []string
	err := filepath.WalkDir(destDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.HasSuffix(d.Name(), TemplateExt) {
			sources = append(sources, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan templates in %q: %w", destDir, err)
	}
	sort.Strings(sources)

	rendered := make([]string, 0, len(sources))
	for _, src := range sources {
		out, err := renderTemplateFile(src, rc)
		if err != nil {
			return rendered, err
		}
		rendered = append(rendered, out)
	}
	return rendered, nil
}

func renderTemplateFile(src string, rc RenderContext) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat template %q: %w", src, err)
	}
	body, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read template %q: %w", src, err)
	}

	tmpl, err := template.New(filepath.Base(src)).
		Option("missingkey=error").
		Funcs(templateFuncs()).
		Parse(string(body))
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", src, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, rc); err != nil {
		return "", fmt.Errorf("render template %q: %w", src, err)
	}

	dest := strings.TrimSuffix(src, TemplateExt)
	if err := os.WriteFile(dest, buf.Bytes(), info.Mode().Perm()); err != nil {
		return "", fmt.Errorf("write rendered %q: %w", dest, err)
	}
	if err := os.Remove(src); err != nil {
		return "", fmt.Errorf("remove template %q: %w", src, err)
	}
	return dest, nil
}

func copyDirectoryContents(srcDir, dstDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		targetPath := filepath.Join(dstDir, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode()

		switch {
		case mode&os.ModeSymlink != 0:
			return fmt.Errorf("symlinks are not supported in definitions (%s)", path)
		case d.IsDir():
			return os.MkdirAll(targetPath, mode.Perm()|0o700)
		case !mode.IsRegular():
			return fmt.Errorf("unsupported file type %s in %s", mode, path)
		}
		return copyFile(path, targetPath, mode.Perm())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// moveFile renames src to dst, falling back to copy and remove when the two
// live on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := copyFile(src, dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Remove(src)
}
