package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"imageworker/internal/domain"
)

func intPtr(v int) *int { return &v }

func redCube() domain.GenerationRequest {
	return domain.GenerationRequest{
		Prompt: "a red cube",
		Width:  intPtr(512),
		Height: intPtr(512),
		Steps:  intPtr(4),
	}.WithSeed(42)
}

func TestBuildFluxSchnell(t *testing.T) {
	g, err := Build(redCube(), FluxSchnell())
	require.NoError(t, err)
	require.Equal(t, "9", g.Output())
	assert.Equal(t, []string{"6", "7", "8", "9", "10", "11", "12", "13", "27"}, g.IDs())

	sampler, ok := g.Node("13")
	require.True(t, ok)
	assert.Equal(t, "KSampler", sampler.ClassType)
	assert.Equal(t, int64(42), sampler.Inputs["seed"])
	assert.Equal(t, 4, sampler.Inputs["steps"])
	assert.Equal(t, 1.0, sampler.Inputs["cfg"])
	assert.Equal(t, Ref{Node: "27", Slot: 0}, sampler.Inputs["latent_image"])

	latent, _ := g.Node("27")
	assert.Equal(t, 512, latent.Inputs["width"])
	assert.Equal(t, 512, latent.Inputs["height"])

	prompt, _ := g.Node("6")
	assert.Equal(t, "a red cube", prompt.Inputs["text"])
}

func TestBuildAppliesVariantDefaults(t *testing.T) {
	g, err := Build(domain.GenerationRequest{}.WithSeed(7), QwenImage())
	require.NoError(t, err)

	sampler, _ := g.Node("3")
	assert.Equal(t, 30, sampler.Inputs["steps"])
	assert.Equal(t, 7.0, sampler.Inputs["cfg"])
	neg, _ := g.Node("7")
	assert.Equal(t, "low quality, blurry, distorted", neg.Inputs["text"])
	pos, _ := g.Node("6")
	assert.Equal(t, "a beautiful landscape", pos.Inputs["text"])
	latent, _ := g.Node("5")
	assert.Equal(t, 1024, latent.Inputs["width"])
}

func TestBuildRejectsInvalidDimensions(t *testing.T) {
	req := redCube()
	req.Width = intPtr(-1)
	_, err := Build(req, FluxSchnell())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidDimensions))
	assert.Contains(t, err.Error(), "invalid dimensions")

	req = redCube()
	req.Height = intPtr(0)
	_, err = Build(req, Flux2Dev())
	assert.ErrorIs(t, err, domain.ErrInvalidDimensions)
}

func TestBuildRejectsBadSamplerSettings(t *testing.T) {
	req := redCube()
	req.Steps = intPtr(0)
	_, err := Build(req, FluxSchnell())
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	req = redCube()
	neg := -0.5
	req.GuidanceScale = &neg
	_, err = Build(req, FluxSchnell())
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	req = redCube()
	req.Seed = nil
	_, err = Build(req, FluxSchnell())
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = Build(redCube().WithSeed(domain.MaxSeed+1), FluxSchnell())
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestBuildNormalizesPrompt(t *testing.T) {
	req := redCube()
	req.Prompt = "  café at dusk  "
	g, err := Build(req, FluxSchnell())
	require.NoError(t, err)
	node, _ := g.Node("6")
	assert.Equal(t, "café at dusk", node.Inputs["text"])
}

func TestBuildRejectsUnknownParameter(t *testing.T) {
	v := FluxSchnell()
	v.Nodes[0].Inputs = map[string]any{"text": Param("style"), "clip": Ref{Node: "11", Slot: 0}}
	_, err := Build(redCube(), v)
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)
}

func TestGraphJSONForm(t *testing.T) {
	g, err := Build(redCube(), QwenImage())
	require.NoError(t, err)
	raw, err := json.Marshal(g)
	require.NoError(t, err)

	var decoded map[string]struct {
		ClassType string                     `json:"class_type"`
		Inputs    map[string]json.RawMessage `json:"inputs"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 7)
	assert.Equal(t, "VAEDecode", decoded["8"].ClassType)
	assert.JSONEq(t, `["4", 2]`, string(decoded["8"].Inputs["vae"]))
	assert.JSONEq(t, `42`, string(decoded["3"].Inputs["seed"]))
	// Node order follows the skeleton.
	assert.True(t, bytes.HasPrefix(raw, []byte(`{"3":`)), "unexpected prefix: %s", raw[:10])
}

func TestGraphValidate(t *testing.T) {
	t.Run("missing reference", func(t *testing.T) {
		g := NewGraph()
		require.NoError(t, g.Add("1", Node{ClassType: "SaveImage", Inputs: map[string]any{"images": Ref{Node: "2"}}}))
		g.SetOutput("1")
		assert.ErrorIs(t, g.Validate(), domain.ErrInvalidGraph)
	})
	t.Run("cycle", func(t *testing.T) {
		g := NewGraph()
		require.NoError(t, g.Add("1", Node{ClassType: "A", Inputs: map[string]any{"in": Ref{Node: "2"}}}))
		require.NoError(t, g.Add("2", Node{ClassType: "B", Inputs: map[string]any{"in": Ref{Node: "1"}}}))
		require.NoError(t, g.Add("3", Node{ClassType: "SaveImage", Inputs: map[string]any{"images": Ref{Node: "2"}}}))
		g.SetOutput("3")
		err := g.Validate()
		require.ErrorIs(t, err, domain.ErrInvalidGraph)
		assert.Contains(t, err.Error(), "cycle")
	})
	t.Run("two outputs", func(t *testing.T) {
		g := NewGraph()
		require.NoError(t, g.Add("1", Node{ClassType: "Loader"}))
		require.NoError(t, g.Add("2", Node{ClassType: "SaveImage", Inputs: map[string]any{"images": Ref{Node: "1"}}}))
		require.NoError(t, g.Add("3", Node{ClassType: "PreviewImage", Inputs: map[string]any{"images": Ref{Node: "1"}}}))
		g.SetOutput("2")
		assert.ErrorIs(t, g.Validate(), domain.ErrInvalidGraph)
	})
	t.Run("duplicate id", func(t *testing.T) {
		g := NewGraph()
		require.NoError(t, g.Add("1", Node{ClassType: "Loader"}))
		assert.ErrorIs(t, g.Add("1", Node{ClassType: "Loader"}), domain.ErrInvalidGraph)
	})
}

func TestBuiltinsPassCheck(t *testing.T) {
	r, err := NewRegistry(Builtins()...)
	require.NoError(t, err)
	assert.Equal(t, []string{"flux1-schnell", "flux2-dev", "qwen-image-2512"}, r.Names())

	v, err := r.Lookup("flux2-dev")
	require.NoError(t, err)
	assert.Equal(t, 20, v.Defaults.Steps)

	_, err = r.Lookup("sd15")
	assert.ErrorIs(t, err, domain.ErrUnknownVariant)
}

func TestBuildIsDeterministic(t *testing.T) {
	variants := Builtins()
	rapid.Check(t, func(t *rapid.T) {
		v := variants[rapid.IntRange(0, len(variants)-1).Draw(t, "variant")]
		w := rapid.IntRange(1, 2048).Draw(t, "width")
		h := rapid.IntRange(1, 2048).Draw(t, "height")
		steps := rapid.IntRange(1, 80).Draw(t, "steps")
		cfg := rapid.Float64Range(0, 20).Draw(t, "cfg")
		seed := rapid.Int64Range(0, domain.MaxSeed).Draw(t, "seed")
		req := domain.GenerationRequest{
			Prompt:        rapid.String().Draw(t, "prompt"),
			Width:         &w,
			Height:        &h,
			Steps:         &steps,
			GuidanceScale: &cfg,
		}.WithSeed(seed)

		first, err := Build(req, v)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		second, err := Build(req, v)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		a, _ := json.Marshal(first)
		b, _ := json.Marshal(second)
		if !bytes.Equal(a, b) {
			t.Fatalf("graphs differ:\n%s\n%s", a, b)
		}
	})
}

func TestVariantCheckRejectsAssetsAtSameKey(t *testing.T) {
	v := FluxSchnell()
	dup := v.Assets[1]
	dup.Name = "clip_l_copy"
	dup.Repo = "someone/else"
	v.Assets = append(v.Assets, dup)

	err := v.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), dup.LocalKey())
}
