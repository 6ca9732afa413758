package types

import (
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

// Method selects the data-transfer strategy between the two clusters.
type Method string

const (
	// MethodArchive streams a tar archive through local staging.
	MethodArchive Method = "archive"
	// MethodRsync pulls and pushes with rsync, skipping unchanged regions.
	MethodRsync Method = "rsync"
)

// ParseMethod normalizes a user-supplied transfer method. Unknown or empty
// values fall back to the archive strategy.
func ParseMethod(s string) Method {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rsync":
		return MethodRsync
	default:
		return MethodArchive
	}
}

const (
	// DefaultPath is the mount and backup path used when the mapping omits one.
	DefaultPath = "/backups"
	// DefaultIdentity is the workload identity (operator deployment name)
	// assumed when the mapping omits one.
	DefaultIdentity = "controller"
)

// MigrationRequest describes one PVC migration between two clusters.
// It is immutable once loaded from the mapping file.
type MigrationRequest struct {
	SourceNamespace string
	DestNamespace   string
	SourceClaim     string // optional, defaulted from the backup's status
	DestClaim       string // optional, defaulted from SourceClaim
	SourcePath      string
	DestPath        string
	Method          Method
	Identity        string
}

// ApplyDefaults fills the optional fields with their documented defaults.
func (r *MigrationRequest) ApplyDefaults() {
	if r.SourcePath == "" {
		r.SourcePath = DefaultPath
	}
	if r.DestPath == "" {
		r.DestPath = DefaultPath
	}
	if r.Identity == "" {
		r.Identity = DefaultIdentity
	}
	if r.Method == "" {
		r.Method = MethodArchive
	}
}

// ClusterCredentials holds everything needed to open one cluster session.
// Either Token or Username/Password must be set.
type ClusterCredentials struct {
	Endpoint string
	Token    string
	Username string
	Password string
	Insecure bool // skip TLS verification
}

// HasAuth reports whether the credentials carry a token or a user/pass pair.
func (c ClusterCredentials) HasAuth() bool {
	return c.Token != "" || (c.Username != "" && c.Password != "")
}

// VolumeSpec captures the PVC characteristics that must match across clusters.
type VolumeSpec struct {
	Capacity     resource.Quantity
	AccessModes  []corev1.PersistentVolumeAccessMode
	VolumeMode   *corev1.PersistentVolumeMode
	StorageClass string // empty means "let the cluster pick"
}
