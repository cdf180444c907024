package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/ashureev/gene-chat/internal/session"
	"gopkg.in/yaml.v3"
)

//go:embed prompt.yaml
var promptYAML []byte

type assetFile struct {
	System         string            `yaml:"system"`
	DomainSuffixes map[string]string `yaml:"domain_suffixes"`
	Enhance        string            `yaml:"enhance"`
	NoTools        string            `yaml:"no_tools"`
}

type assets struct {
	system   *template.Template
	enhance  *template.Template
	suffixes map[session.Domain]string
	noTools  string
}

var defaultAssets = mustLoadAssets(promptYAML)

func mustLoadAssets(data []byte) *assets {
	a, err := loadAssets(data)
	if err != nil {
		panic("prompt: " + err.Error())
	}
	return a
}

func loadAssets(data []byte) (*assets, error) {
	var f assetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prompt assets: %w", err)
	}

	system, err := template.New("system").Option("missingkey=error").Parse(f.System)
	if err != nil {
		return nil, fmt.Errorf("parse system template: %w", err)
	}
	enhance, err := template.New("enhance").Option("missingkey=error").Parse(f.Enhance)
	if err != nil {
		return nil, fmt.Errorf("parse enhance template: %w", err)
	}

	// Every catalog domain gets an entry so that a lookup miss means the
	// domain itself is unknown, not merely suffix-less.
	suffixes := make(map[session.Domain]string, len(session.Domains))
	for _, d := range session.Domains {
		suffixes[d] = ""
	}
	for key, suffix := range f.DomainSuffixes {
		d := session.Domain(key)
		if !d.Valid() {
			return nil, fmt.Errorf("domain suffix for unknown domain %q", key)
		}
		suffixes[d] = strings.TrimSpace(suffix)
	}

	return &assets{
		system:   system,
		enhance:  enhance,
		suffixes: suffixes,
		noTools:  f.NoTools,
	}, nil
}
