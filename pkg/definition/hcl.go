package definition

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

type hclFile struct {
	Batch *hclBatch `hcl:"batch,block"`
}

type hclBatch struct {
	Name  string     `hcl:"name,label"`
	Steps []*hclStep `hcl:"step,block"`
}

type hclStep struct {
	ID    string         `hcl:"id,label"`
	Kind  string         `hcl:"kind"`
	After []string       `hcl:"after,optional"`
	Needs []string       `hcl:"needs,optional"`
	Args  hcl.Expression `hcl:"args,optional"`
}

// ParseHCL decodes an HCL definition holding a single batch block. filename
// is only used in diagnostics.
func ParseHCL(src []byte, filename string) (*Batch, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var parsed hclFile
	diags = gohcl.DecodeBody(file.Body, nil, &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	if parsed.Batch == nil {
		return nil, fmt.Errorf("no batch block in %s", filename)
	}

	b := &Batch{
		Name:  parsed.Batch.Name,
		Steps: make([]Step, 0, len(parsed.Batch.Steps)),
	}
	for _, hs := range parsed.Batch.Steps {
		args, err := decodeArgs(hs.Args)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", hs.ID, err)
		}
		b.Steps = append(b.Steps, Step{
			ID:    hs.ID,
			Kind:  hs.Kind,
			After: hs.After,
			Needs: hs.Needs,
			Args:  args,
		})
	}
	return b, nil
}

func decodeArgs(expr hcl.Expression) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to evaluate args: %w", diags)
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("args must be an object, got %s", val.Type().FriendlyName())
	}

	native, err := ctyToNative(val)
	if err != nil {
		return nil, err
	}
	return native.(map[string]any), nil
}

// ctyToNative converts a cty value into plain Go values: string, float64,
// bool, []any and map[string]any.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("could not convert number: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0)
		it := v.ElementIterator()
		for it.Next() {
			_, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil

	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		it := v.ElementIterator()
		for it.Next() {
			key, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}
