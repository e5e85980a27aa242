package workflow

import (
	"fmt"
	"math/big"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"imageworker/internal/domain"
)

// Variant files declare extra model families without recompiling:
//
//	variant "sdxl-turbo" {
//	  output = "9"
//	  defaults {
//	    width  = 512
//	    height = 512
//	    steps  = 1
//	  }
//	  asset "sdxl" {
//	    repo = "stabilityai/sdxl-turbo"
//	    file = "sd_xl_turbo_1.0.safetensors"
//	    dir  = "checkpoints"
//	  }
//	  node "6" {
//	    class_type = "CLIPTextEncode"
//	    inputs = { text = param("prompt"), clip = ref("4", 1) }
//	  }
//	}

const (
	paramMarker   = "__param"
	refNodeMarker = "__ref_node"
	refSlotMarker = "__ref_slot"
)

type hclFile struct {
	Variants []*hclVariant `hcl:"variant,block"`
}

type hclVariant struct {
	Name        string       `hcl:"name,label"`
	Description string       `hcl:"description,optional"`
	Output      string       `hcl:"output"`
	Defaults    *hclDefaults `hcl:"defaults,block"`
	Assets      []*hclAsset  `hcl:"asset,block"`
	Nodes       []*hclNode   `hcl:"node,block"`
}

type hclDefaults struct {
	Prompt         string  `hcl:"prompt,optional"`
	NegativePrompt string  `hcl:"negative_prompt,optional"`
	Width          int     `hcl:"width,optional"`
	Height         int     `hcl:"height,optional"`
	Steps          int     `hcl:"steps,optional"`
	GuidanceScale  float64 `hcl:"guidance_scale,optional"`
}

type hclAsset struct {
	Name   string `hcl:"name,label"`
	Repo   string `hcl:"repo"`
	File   string `hcl:"file"`
	Dir    string `hcl:"dir"`
	Target string `hcl:"target,optional"`
}

type hclNode struct {
	ID        string    `hcl:"id,label"`
	ClassType string    `hcl:"class_type"`
	Inputs    cty.Value `hcl:"inputs,optional"`
}

// evalContext exposes param("field") and ref("node", slot) to variant files.
// Both return marker objects that decodeInput turns back into Param and Ref.
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{
			"param": function.New(&function.Spec{
				Params: []function.Parameter{{Name: "field", Type: cty.String}},
				Type: function.StaticReturnType(cty.Object(map[string]cty.Type{
					paramMarker: cty.String,
				})),
				Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
					return cty.ObjectVal(map[string]cty.Value{paramMarker: args[0]}), nil
				},
			}),
			"ref": function.New(&function.Spec{
				Params: []function.Parameter{
					{Name: "node", Type: cty.String},
					{Name: "slot", Type: cty.Number},
				},
				Type: function.StaticReturnType(cty.Object(map[string]cty.Type{
					refNodeMarker: cty.String,
					refSlotMarker: cty.Number,
				})),
				Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
					return cty.ObjectVal(map[string]cty.Value{
						refNodeMarker: args[0],
						refSlotMarker: args[1],
					}), nil
				},
			}),
		},
	}
}

// LoadVariantFiles parses every .hcl file directly under dir. A missing or
// empty directory yields no variants.
func LoadVariantFiles(dir string) ([]Variant, error) {
	if dir == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.hcl"))
	if err != nil {
		return nil, fmt.Errorf("workflow: list variant files: %w", err)
	}
	sort.Strings(matches)

	parser := hclparse.NewParser()
	var variants []Variant
	for _, path := range matches {
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("workflow: parse %s: %w", path, diags)
		}
		parsed, err := decodeVariants(file.Body)
		if err != nil {
			return nil, fmt.Errorf("workflow: %s: %w", path, err)
		}
		variants = append(variants, parsed...)
	}
	return variants, nil
}

// ParseVariants decodes variants from HCL source held in memory.
func ParseVariants(filename string, src []byte) ([]Variant, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("workflow: parse %s: %w", filename, diags)
	}
	return decodeVariants(file.Body)
}

func decodeVariants(body hcl.Body) ([]Variant, error) {
	var root hclFile
	if diags := gohcl.DecodeBody(body, evalContext(), &root); diags.HasErrors() {
		return nil, diags
	}
	variants := make([]Variant, 0, len(root.Variants))
	for _, hv := range root.Variants {
		v, err := hv.toVariant()
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", hv.Name, err)
		}
		variants = append(variants, v)
	}
	return variants, nil
}

func (hv *hclVariant) toVariant() (Variant, error) {
	v := Variant{Name: hv.Name, Description: hv.Description, Output: hv.Output}
	if hv.Defaults != nil {
		v.Defaults = Defaults(*hv.Defaults)
	}
	for _, a := range hv.Assets {
		v.Assets = append(v.Assets, domain.ModelAsset{
			Name: a.Name, Repo: a.Repo, File: a.File, Dir: a.Dir, Target: a.Target,
		})
	}
	for _, n := range hv.Nodes {
		inputs := map[string]any{}
		if !n.Inputs.IsNull() && n.Inputs.IsKnown() {
			if !n.Inputs.Type().IsObjectType() && !n.Inputs.Type().IsMapType() {
				return Variant{}, fmt.Errorf("node %s: inputs must be an object", n.ID)
			}
			for name, raw := range n.Inputs.AsValueMap() {
				val, err := decodeInput(raw)
				if err != nil {
					return Variant{}, fmt.Errorf("node %s input %s: %w", n.ID, name, err)
				}
				inputs[name] = val
			}
		}
		v.Nodes = append(v.Nodes, NodeSpec{ID: n.ID, ClassType: n.ClassType, Inputs: inputs})
	}
	return v, nil
}

// decodeInput converts an HCL value into a literal, Param or Ref.
func decodeInput(val cty.Value) (any, error) {
	if val.IsNull() || !val.IsKnown() {
		return nil, fmt.Errorf("value must be known and not null")
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty == cty.Number:
		return numberValue(val.AsBigFloat()), nil
	case ty.IsObjectType() && ty.HasAttribute(paramMarker):
		return Param(val.GetAttr(paramMarker).AsString()), nil
	case ty.IsObjectType() && ty.HasAttribute(refNodeMarker):
		slot, acc := val.GetAttr(refSlotMarker).AsBigFloat().Int64()
		if acc != big.Exact {
			return nil, fmt.Errorf("ref slot must be an integer")
		}
		return Ref{Node: val.GetAttr(refNodeMarker).AsString(), Slot: int(slot)}, nil
	case ty.IsTupleType() || ty.IsListType():
		var items []any
		for it := val.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			item, err := decodeInput(elem)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	}
	return nil, fmt.Errorf("unsupported value of type %s", ty.FriendlyName())
}

func numberValue(f *big.Float) any {
	if f.IsInt() {
		if i, acc := f.Int64(); acc == big.Exact {
			return int(i)
		}
	}
	out, _ := f.Float64()
	return out
}
