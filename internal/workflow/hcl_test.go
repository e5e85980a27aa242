package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imageworker/internal/domain"
)

func TestLoadVariantFiles(t *testing.T) {
	variants, err := LoadVariantFiles("testdata")
	require.NoError(t, err)
	require.Len(t, variants, 1)

	v := variants[0]
	assert.Equal(t, "sdxl-turbo", v.Name)
	assert.Equal(t, "9", v.Output)
	assert.Equal(t, 512, v.Defaults.Width)
	assert.Equal(t, 1, v.Defaults.Steps)
	require.Len(t, v.Assets, 1)
	assert.Equal(t, "checkpoints/sdxl_turbo.safetensors", v.Assets[0].LocalKey())
	require.NoError(t, v.Check())

	req := domain.GenerationRequest{Prompt: "a red cube"}.WithSeed(42)
	g, err := Build(req, v)
	require.NoError(t, err)

	sampler, ok := g.Node("3")
	require.True(t, ok)
	assert.Equal(t, int64(42), sampler.Inputs["seed"])
	assert.Equal(t, 1, sampler.Inputs["steps"])
	assert.Equal(t, Ref{Node: "5", Slot: 0}, sampler.Inputs["latent_image"])
	assert.Equal(t, "euler_ancestral", sampler.Inputs["sampler_name"])

	decode, _ := g.Node("8")
	assert.Equal(t, Ref{Node: "4", Slot: 2}, decode.Inputs["vae"])
}

func TestLoadVariantFilesMissingDir(t *testing.T) {
	variants, err := LoadVariantFiles(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, variants)

	variants, err = LoadVariantFiles("")
	require.NoError(t, err)
	assert.Empty(t, variants)
}

func TestParseVariantsReportsErrors(t *testing.T) {
	_, err := ParseVariants("bad.hcl", []byte(`variant "x" { output = }`))
	assert.Error(t, err)

	_, err = ParseVariants("bad.hcl", []byte(`
variant "x" {
  output = "1"
  node "1" {
    class_type = "SaveImage"
    inputs = { images = ref("0", 0.5) }
  }
}`))
	assert.ErrorContains(t, err, "ref slot must be an integer")
}

func TestHCLVariantOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	src := `
variant "flux1-schnell" {
  output = "2"
  defaults {
    width  = 256
    height = 256
    steps  = 2
  }
  node "1" {
    class_type = "EmptyLatentImage"
    inputs = {
      width  = param("width")
      height = param("height")
      batch_size = 1
    }
  }
  node "2" {
    class_type = "SaveImage"
    inputs = { images = ref("1", 0), filename_prefix = "override" }
  }
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "override.hcl"), []byte(src), 0o644))

	reg, err := NewRegistry(Builtins()...)
	require.NoError(t, err)
	extra, err := LoadVariantFiles(dir)
	require.NoError(t, err)
	for _, v := range extra {
		require.NoError(t, reg.Register(v))
	}
	v, err := reg.Lookup("flux1-schnell")
	require.NoError(t, err)
	assert.Equal(t, 256, v.Defaults.Width)
	assert.Empty(t, v.Assets)
}
