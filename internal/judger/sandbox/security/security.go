// Package security defines sandbox isolation profiles and their lookup.
package security

import (
	pkgerrors "judger/pkg/errors"
)

// IsolationProfile describes filesystem, namespace and seccomp settings.
type IsolationProfile struct {
	RootFS         string
	SeccompProfile string
	DisableNetwork bool
}

// Profile is a named isolation profile as it appears in configuration.
type Profile struct {
	Name           string `yaml:"name"`
	RootFS         string `yaml:"rootfs"`
	SeccompProfile string `yaml:"seccompProfile"`
	AllowNetwork   bool   `yaml:"allowNetwork"`
}

// StaticResolver resolves profiles from a fixed list.
type StaticResolver struct {
	profiles map[string]IsolationProfile
}

// NewStaticResolver indexes profiles by name. Unnamed entries are ignored.
func NewStaticResolver(profiles []Profile) *StaticResolver {
	m := make(map[string]IsolationProfile, len(profiles))
	for _, p := range profiles {
		if p.Name == "" {
			continue
		}
		m[p.Name] = IsolationProfile{
			RootFS:         p.RootFS,
			SeccompProfile: p.SeccompProfile,
			DisableNetwork: !p.AllowNetwork,
		}
	}
	return &StaticResolver{profiles: m}
}

// Resolve maps a profile name to isolation settings.
func (r *StaticResolver) Resolve(name string) (IsolationProfile, error) {
	if name == "" {
		return IsolationProfile{}, pkgerrors.ValidationError("profile", "required")
	}
	prof, ok := r.profiles[name]
	if !ok {
		return IsolationProfile{}, pkgerrors.Newf(pkgerrors.NotFound, "profile %s not found", name)
	}
	return prof, nil
}
