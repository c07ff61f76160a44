package model

import "fmt"

// ResourceRequirements mirrors a Kubernetes container's resource requests
// and limits for the module's init and outputs containers.
type ResourceRequirements struct {
	Requests map[string]string
	Limits   map[string]string
}

// ModuleConfiguration is the per-provider module metadata resolved from the
// catalog plus any per-spec overrides.
type ModuleConfiguration struct {
	Image                         string
	Version                       string
	OutputsSecretImage            string
	OutputsSecretVersion          string
	ReconcileDriftIntervalMinutes int
	ReconcileTimeoutMinutes       int
	Resources                     ResourceRequirements
	Overridden                    bool
}

const (
	defaultDriftIntervalMinutes = 1440
	defaultTimeoutMinutes       = 1440
)

// NewModuleConfiguration fills in the documented defaults for the interval
// fields.
func NewModuleConfiguration() ModuleConfiguration {
	return ModuleConfiguration{
		ReconcileDriftIntervalMinutes: defaultDriftIntervalMinutes,
		ReconcileTimeoutMinutes:       defaultTimeoutMinutes,
	}
}

// ImageRef combines image and version as the module container expects it.
func (m ModuleConfiguration) ImageRef() string {
	return fmt.Sprintf("%s:%s", m.Image, m.Version)
}

// OutputsImageRef combines the outputs-secret image and version.
func (m ModuleConfiguration) OutputsImageRef() string {
	return fmt.Sprintf("%s:%s", m.OutputsSecretImage, m.OutputsSecretVersion)
}
