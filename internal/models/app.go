package models

// App is one installed application as reported by the inventory.
type App struct {
	PackageName string   `json:"package_name" yaml:"package_name"`
	Label       string   `json:"label,omitempty" yaml:"label"`
	Version     string   `json:"version,omitempty" yaml:"version"`
	Components  []string `json:"components,omitempty" yaml:"components"`
}
