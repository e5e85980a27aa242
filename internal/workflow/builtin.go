package workflow

import "imageworker/internal/domain"

// fluxNodes is the graph shared by the FLUX families: separate UNet, dual
// text encoder and VAE loaders feeding a single sampler.
func fluxNodes(unet, vae, prefix string) []NodeSpec {
	return []NodeSpec{
		{ID: "6", ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": ParamPrompt,
			"clip": Ref{Node: "11", Slot: 0},
		}},
		{ID: "7", ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": ParamNegativePrompt,
			"clip": Ref{Node: "11", Slot: 0},
		}},
		{ID: "8", ClassType: "VAEDecode", Inputs: map[string]any{
			"samples": Ref{Node: "13", Slot: 0},
			"vae":     Ref{Node: "10", Slot: 0},
		}},
		{ID: "9", ClassType: "SaveImage", Inputs: map[string]any{
			"filename_prefix": prefix,
			"images":          Ref{Node: "8", Slot: 0},
		}},
		{ID: "10", ClassType: "VAELoader", Inputs: map[string]any{
			"vae_name": vae,
		}},
		{ID: "11", ClassType: "DualCLIPLoader", Inputs: map[string]any{
			"clip_name1": "t5xxl_fp16.safetensors",
			"clip_name2": "clip_l.safetensors",
			"type":       "flux",
		}},
		{ID: "12", ClassType: "UNETLoader", Inputs: map[string]any{
			"unet_name":    unet,
			"weight_dtype": "default",
		}},
		{ID: "13", ClassType: "KSampler", Inputs: map[string]any{
			"seed":         ParamSeed,
			"steps":        ParamSteps,
			"cfg":          ParamCFG,
			"sampler_name": "euler",
			"scheduler":    "simple",
			"denoise":      1.0,
			"model":        Ref{Node: "12", Slot: 0},
			"positive":     Ref{Node: "6", Slot: 0},
			"negative":     Ref{Node: "7", Slot: 0},
			"latent_image": Ref{Node: "27", Slot: 0},
		}},
		{ID: "27", ClassType: "EmptyLatentImage", Inputs: map[string]any{
			"width":      ParamWidth,
			"height":     ParamHeight,
			"batch_size": 1,
		}},
	}
}

// FluxSchnell is the four-step distilled FLUX.1 model.
func FluxSchnell() Variant {
	return Variant{
		Name:        "flux1-schnell",
		Description: "FLUX.1 schnell, 4-step distilled",
		Assets: []domain.ModelAsset{
			{Name: "flux1-schnell", Repo: "black-forest-labs/FLUX.1-schnell", File: "flux1-schnell.safetensors", Dir: "unet"},
			{Name: "t5xxl_fp16", Repo: "comfyanonymous/flux_text_encoders", File: "t5xxl_fp16.safetensors", Dir: "clip"},
			{Name: "clip_l", Repo: "comfyanonymous/flux_text_encoders", File: "clip_l.safetensors", Dir: "clip"},
			{Name: "ae", Repo: "black-forest-labs/FLUX.1-schnell", File: "ae.safetensors", Dir: "vae", Target: "ae.sft"},
		},
		Defaults: Defaults{
			Prompt: "a beautiful sunset",
			Width:  1024,
			Height: 1024,
			Steps:  4,
			// Schnell is guidance-distilled; cfg above 1 degrades output.
			GuidanceScale: 1.0,
		},
		Nodes:  fluxNodes("flux1-schnell.safetensors", "ae.sft", "flux"),
		Output: "9",
	}
}

// Flux2Dev is the FLUX.2 dev model.
func Flux2Dev() Variant {
	return Variant{
		Name:        "flux2-dev",
		Description: "FLUX.2 dev",
		Assets: []domain.ModelAsset{
			{Name: "flux2-dev", Repo: "black-forest-labs/FLUX.2-dev", File: "flux2-dev.safetensors", Dir: "unet"},
			{Name: "t5xxl_fp16", Repo: "comfyanonymous/flux_text_encoders", File: "t5xxl_fp16.safetensors", Dir: "clip"},
			{Name: "clip_l", Repo: "comfyanonymous/flux_text_encoders", File: "clip_l.safetensors", Dir: "clip"},
			{Name: "ae", Repo: "black-forest-labs/FLUX.2-dev", File: "ae.safetensors", Dir: "vae"},
		},
		Defaults: Defaults{
			Prompt:        "a beautiful landscape",
			Width:         1024,
			Height:        1024,
			Steps:         20,
			GuidanceScale: 3.5,
		},
		Nodes:  fluxNodes("flux2-dev.safetensors", "ae.safetensors", "flux2"),
		Output: "9",
	}
}

// QwenImage is Qwen-Image 2512 packaged as a single checkpoint.
func QwenImage() Variant {
	return Variant{
		Name:        "qwen-image-2512",
		Description: "Qwen-Image 2512 checkpoint",
		Assets: []domain.ModelAsset{
			{Name: "qwen_image_2512", Repo: "Qwen/Qwen-Image-2512", File: "model.safetensors", Dir: "checkpoints", Target: "qwen_image_2512.safetensors"},
		},
		Defaults: Defaults{
			Prompt:         "a beautiful landscape",
			NegativePrompt: "low quality, blurry, distorted",
			Width:          1024,
			Height:         1024,
			Steps:          30,
			GuidanceScale:  7.0,
		},
		Nodes: []NodeSpec{
			{ID: "3", ClassType: "KSampler", Inputs: map[string]any{
				"seed":         ParamSeed,
				"steps":        ParamSteps,
				"cfg":          ParamCFG,
				"sampler_name": "euler",
				"scheduler":    "normal",
				"denoise":      1.0,
				"model":        Ref{Node: "4", Slot: 0},
				"positive":     Ref{Node: "6", Slot: 0},
				"negative":     Ref{Node: "7", Slot: 0},
				"latent_image": Ref{Node: "5", Slot: 0},
			}},
			{ID: "4", ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{
				"ckpt_name": "qwen_image_2512.safetensors",
			}},
			{ID: "5", ClassType: "EmptyLatentImage", Inputs: map[string]any{
				"width":      ParamWidth,
				"height":     ParamHeight,
				"batch_size": 1,
			}},
			{ID: "6", ClassType: "CLIPTextEncode", Inputs: map[string]any{
				"text": ParamPrompt,
				"clip": Ref{Node: "4", Slot: 1},
			}},
			{ID: "7", ClassType: "CLIPTextEncode", Inputs: map[string]any{
				"text": ParamNegativePrompt,
				"clip": Ref{Node: "4", Slot: 1},
			}},
			{ID: "8", ClassType: "VAEDecode", Inputs: map[string]any{
				"samples": Ref{Node: "3", Slot: 0},
				"vae":     Ref{Node: "4", Slot: 2},
			}},
			{ID: "9", ClassType: "SaveImage", Inputs: map[string]any{
				"filename_prefix": "qwen_image",
				"images":          Ref{Node: "8", Slot: 0},
			}},
		},
		Output: "9",
	}
}

// Builtins returns the variants compiled into the worker.
func Builtins() []Variant {
	return []Variant{FluxSchnell(), Flux2Dev(), QwenImage()}
}
