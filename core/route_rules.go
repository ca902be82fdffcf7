package core

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// routeRulesFile is the on-disk shape of the optional rules override.
// Any field left empty keeps its compiled-in default, so deployments can
// override just the protected prefixes without restating everything.
type routeRulesFile struct {
	Routes RouteRules `yaml:"routes"`
}

// LoadRouteRules reads a YAML rules file and merges it over the defaults.
// An empty path returns the defaults unchanged.
func LoadRouteRules(path string) (RouteRules, error) {
	rules := DefaultRouteRules()
	if strings.TrimSpace(path) == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read route rules %s: %w", path, err)
	}
	var file routeRulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return rules, fmt.Errorf("parse route rules %s: %w", path, err)
	}

	merged := mergeRouteRules(rules, file.Routes)
	if err := validateRouteRules(merged); err != nil {
		return rules, err
	}
	return merged, nil
}

func mergeRouteRules(base, override RouteRules) RouteRules {
	if override.BuildAssetPrefix != "" {
		base.BuildAssetPrefix = override.BuildAssetPrefix
	}
	if override.APIPrefix != "" {
		base.APIPrefix = override.APIPrefix
	}
	if override.ImagePrefix != "" {
		base.ImagePrefix = override.ImagePrefix
	}
	if override.AdminPrefix != "" {
		base.AdminPrefix = override.AdminPrefix
	}
	if override.AdminLoginPath != "" {
		base.AdminLoginPath = override.AdminLoginPath
	}
	if override.AdminHomePath != "" {
		base.AdminHomePath = override.AdminHomePath
	}
	if override.LoginPath != "" {
		base.LoginPath = override.LoginPath
	}
	if len(override.AuthOnlyPaths) > 0 {
		base.AuthOnlyPaths = override.AuthOnlyPaths
	}
	if override.ProfilePrefix != "" {
		base.ProfilePrefix = override.ProfilePrefix
	}
	if override.UserHomePath != "" {
		base.UserHomePath = override.UserHomePath
	}
	if len(override.ProtectedPrefixes) > 0 {
		base.ProtectedPrefixes = override.ProtectedPrefixes
	}
	if len(override.ActionSuffixes) > 0 {
		base.ActionSuffixes = override.ActionSuffixes
	}
	return base
}

func validateRouteRules(r RouteRules) error {
	paths := [][2]string{
		{"admin_prefix", r.AdminPrefix},
		{"admin_login_path", r.AdminLoginPath},
		{"admin_home_path", r.AdminHomePath},
		{"login_path", r.LoginPath},
		{"profile_prefix", r.ProfilePrefix},
		{"user_home_path", r.UserHomePath},
	}
	for _, p := range paths {
		if !strings.HasPrefix(p[1], "/") {
			return fmt.Errorf("route rules: %s must start with '/'", p[0])
		}
	}
	for _, p := range r.ProtectedPrefixes {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("route rules: protected prefix %q must start with '/'", p)
		}
	}
	if !strings.HasPrefix(r.AdminLoginPath, r.AdminPrefix) {
		return errors.New("route rules: admin_login_path must live under admin_prefix")
	}
	return nil
}
