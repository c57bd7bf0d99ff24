package providers

import (
	"gopkg.in/yaml.v3"
)

type cloudConfig struct {
	PackageUpdate bool     `yaml:"package_update"`
	Packages      []string `yaml:"packages"`
}

// CloudInitUserData returns a cloud-config document that installs packages
// the bootstrap playbook relies on (ansible needs python3 on the node).
// It returns "" when no packages are requested.
func CloudInitUserData(packages []string) string {
	if len(packages) == 0 {
		return ""
	}
	b, err := yaml.Marshal(cloudConfig{PackageUpdate: true, Packages: packages})
	if err != nil {
		return ""
	}
	return "#cloud-config\n" + string(b)
}
