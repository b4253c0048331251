package stemcell

// Defaults applied by Resolve when an option is left empty.
const (
	DefaultStemcellName   = "bosh-stemcell"
	DefaultInfrastructure = "vsphere"
	DefaultArchitecture   = "x86_64"
	DefaultProvider       = "vbox"
	DefaultTemplatesDir   = "templates"
)

// File names inside the staging directory and the final archive.
const (
	DefinitionsDir  = "definitions"
	ImageName       = "image"
	ManifestName    = "stemcell.MF"
	PackageListName = "stemcell_dpkg_l.txt"
	ISODir          = "iso"
	BackupSuffix    = ".bak"
	TemplateExt     = ".tmpl"
)

// AgentPayloadName is the file name the definition templates expect the
// agent payload under.
const AgentPayloadName = "_bosh_agent.gem"

// providers veewee knows how to drive.
var supportedProviders = map[string]struct{}{
	"vbox":      {},
	"kvm":       {},
	"vmfusion":  {},
	"parallels": {},
}
