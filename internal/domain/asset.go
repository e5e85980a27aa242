package domain

import (
	"path"
	"strings"
)

// ModelAsset is a model weight file the engine needs on local storage.
// LocalKey is derived from Dir and Target only, so the same logical asset
// always lands at the same place under the models root.
type ModelAsset struct {
	Name   string
	Repo   string
	File   string
	Dir    string
	Target string
}

// LocalKey returns the slash-separated path of the asset relative to the
// models root (e.g. "unet/flux1-schnell.safetensors").
func (a ModelAsset) LocalKey() string {
	target := strings.TrimSpace(a.Target)
	if target == "" {
		target = path.Base(strings.TrimSpace(a.File))
	}
	return path.Join(strings.TrimSpace(a.Dir), target)
}

// DisplayName is used in logs and error messages.
func (a ModelAsset) DisplayName() string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return a.LocalKey()
}
