package stemcell

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cochaviz/stemcell/internal/remote"
)

// Kind names a distribution variant. It selects the template directory and
// the default target name.
type Kind string

const (
	// KindNoop is not a real distribution; it exists for dry runs and tests.
	KindNoop        Kind = "noop"
	KindUbuntu      Kind = "ubuntu"
	KindRedhat      Kind = "redhat"
	KindCentos      Kind = "centos"
	KindCentosMicro Kind = "centosmicro"
)

// Kinds lists every known variant.
func Kinds() []Kind {
	return []Kind{KindNoop, KindUbuntu, KindRedhat, KindCentos, KindCentosMicro}
}

// ParseKind returns the Kind named by value.
func ParseKind(value string) (Kind, error) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	for _, k := range Kinds() {
		if k == normalized {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownVariant, value)
}

// Variant is a distribution-specific builder. Beyond Kind, a variant opts
// into pipeline extension points by implementing the interfaces below; the
// stage order itself is fixed by Builder.
type Variant interface {
	Kind() Kind
}

// StageContext is what extension points get to work with.
type StageContext struct {
	Config        Config
	DefinitionDir string
	Runner        Runner
	Logger        *slog.Logger
}

// OptionDefaulter fills variant defaults into the options before they are resolved.
type OptionDefaulter interface {
	DefaultOptions(opts Options) Options
}

// TemplateExtender adds values to RenderContext.Extra.
type TemplateExtender interface {
	TemplateValues() map[string]string
}

// SetupExtender stages extra payloads after the definition and agent are in place.
type SetupExtender interface {
	SetupExtra(ctx context.Context, sc StageContext) error
}

// PostBuildHook runs against the built VM before it is exported and destroyed.
type PostBuildHook interface {
	PostBuild(ctx context.Context, sc StageContext) error
}

// PackageExtender reports additional archive members, relative to the prefix.
type PackageExtender interface {
	PackageExtra(ctx context.Context, sc StageContext) ([]string, error)
}

// VariantDeps are collaborators some variants need.
type VariantDeps struct {
	Downloader remote.Downloader
	Logger     *slog.Logger
}

// NewVariant constructs the variant for kind.
func NewVariant(kind Kind, opts Options, deps VariantDeps) (Variant, error) {
	switch kind {
	case KindNoop:
		return Noop{}, nil
	case KindUbuntu:
		return Ubuntu{}, nil
	case KindRedhat:
		return Redhat{}, nil
	case KindCentos:
		return Centos{}, nil
	case KindCentosMicro:
		v, err := NewCentosMicro(opts, deps)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownVariant, kind)
	}
}

// Noop runs the base pipeline without any distribution specifics.
type Noop struct{}

func (Noop) Kind() Kind { return KindNoop }

type Ubuntu struct{}

func (Ubuntu) Kind() Kind { return KindUbuntu }

type Redhat struct{}

func (Redhat) Kind() Kind { return KindRedhat }

// CentOS 6.3 minimal installer used when no ISO is configured.
const (
	CentosISO         = "http://www.mirrorservice.org/sites/mirror.centos.org/6.3/isos/x86_64/CentOS-6.3-x86_64-minimal.iso"
	CentosISOMD5      = "087713752fa88c03a5e8471c661ad1a2"
	CentosISOFilename = "CentOS-6.3-x86_64-minimal.iso"
)

type Centos struct{}

func (Centos) Kind() Kind { return KindCentos }

// DefaultOptions implements OptionDefaulter. Without an ISO the CentOS 6.3
// installer is used; an iso_md5 or iso_filename set by the user is kept.
func (Centos) DefaultOptions(opts Options) Options {
	if opts.ISO != "" {
		return opts
	}
	opts.ISO = CentosISO
	if opts.ISOMD5 == "" {
		opts.ISOMD5 = CentosISOMD5
	}
	if opts.ISOFilename == "" {
		opts.ISOFilename = CentosISOFilename
	}
	return opts
}

// ApplyDefaults runs the OptionDefaulter of kind's variant, if it has one.
// Unknown kinds get opts back unchanged.
func ApplyDefaults(kind Kind, opts Options) Options {
	if d, ok := prototype(kind).(OptionDefaulter); ok {
		return d.DefaultOptions(opts)
	}
	return opts
}

// prototype returns a zero-value variant of kind. Only stateless extension
// points may be used on it.
func prototype(kind Kind) Variant {
	switch kind {
	case KindNoop:
		return Noop{}
	case KindUbuntu:
		return Ubuntu{}
	case KindRedhat:
		return Redhat{}
	case KindCentos:
		return Centos{}
	case KindCentosMicro:
		return CentosMicro{}
	}
	return nil
}
