package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/aescanero/stepflow/pkg/definition"
	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
	"github.com/aescanero/stepflow/pkg/step"
)

// Built-in kinds.
const (
	KindValue    = "value"
	KindFail     = "fail"
	KindCollect  = "collect"
	KindTemplate = "template"
	KindLLM      = "llm"
)

// Value emits args.value after an optional args.delay in seconds. Without a
// value the step succeeds with no data.
func Value(def definition.Step, env Env) (step.Func, error) {
	v := def.Args["value"]
	delay, err := delayArg(def)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, values ports.ValueReader) (any, error) {
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		return v, nil
	}, nil
}

// Fail always fails with args.message, after an optional args.delay.
func Fail(def definition.Step, env Env) (step.Func, error) {
	msg, ok := def.StringArg("message")
	if !ok || msg == "" {
		msg = fmt.Sprintf("step %s failed", def.ID)
	}
	delay, err := delayArg(def)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, values ports.ValueReader) (any, error) {
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		return nil, errors.New(msg)
	}, nil
}

// Collect gathers the values of its needs into a map keyed by step id.
func Collect(def definition.Step, env Env) (step.Func, error) {
	return func(ctx context.Context, values ports.ValueReader) (any, error) {
		return neededValues(def, values), nil
	}, nil
}

// Template renders args.text with the values of its needs, keyed by step id.
func Template(def definition.Step, env Env) (step.Func, error) {
	tmpl, err := parseTemplate(def, "text")
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, values ports.ValueReader) (any, error) {
		return render(tmpl, neededValues(def, values))
	}, nil
}

// LLM renders args.prompt like Template and sends it to the configured model.
// Optional args: system, model, max_tokens, temperature.
func LLM(def definition.Step, env Env) (step.Func, error) {
	if env.LLM == nil {
		return nil, fmt.Errorf("no LLM client configured")
	}
	tmpl, err := parseTemplate(def, "prompt")
	if err != nil {
		return nil, err
	}

	req := ports.LLMRequest{
		Model:     env.DefaultModel,
		MaxTokens: env.DefaultMaxTokens,
	}
	if model, ok := def.StringArg("model"); ok {
		req.Model = model
	}
	if system, ok := def.StringArg("system"); ok {
		req.System = system
	}
	if n, ok := def.NumberArg("max_tokens"); ok {
		req.MaxTokens = int(n)
	}
	if temp, ok := def.NumberArg("temperature"); ok {
		req.Temperature = temp
	}
	if req.MaxTokens <= 0 {
		return nil, fmt.Errorf("max_tokens must be positive")
	}

	client := env.LLM
	return func(ctx context.Context, values ports.ValueReader) (any, error) {
		prompt, err := render(tmpl, neededValues(def, values))
		if err != nil {
			return nil, err
		}
		r := req
		r.Prompt = prompt

		resp, err := client.GenerateCompletion(ctx, &r)
		if err != nil {
			return nil, fmt.Errorf("completion failed: %w", err)
		}
		return resp.Content, nil
	}, nil
}

func delayArg(def definition.Step) (time.Duration, error) {
	if _, ok := def.Args["delay"]; !ok {
		return 0, nil
	}
	secs, ok := def.NumberArg("delay")
	if !ok || secs < 0 {
		return 0, fmt.Errorf("delay must be a non-negative number of seconds")
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func neededValues(def definition.Step, values ports.ValueReader) map[string]any {
	data := make(map[string]any, len(def.Needs))
	for _, dep := range def.Needs {
		id := domain.StepID(strings.TrimSpace(dep))
		if v, ok := values.Get(id); ok {
			data[string(id)] = v
		}
	}
	return data
}

func parseTemplate(def definition.Step, arg string) (*template.Template, error) {
	text, ok := def.StringArg(arg)
	if !ok {
		return nil, fmt.Errorf("args.%s is required", arg)
	}
	tmpl, err := template.New(def.ID).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid %s template: %w", arg, err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data map[string]any) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return sb.String(), nil
}
