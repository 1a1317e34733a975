package governance

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

var ErrDenied = errors.New("denied by policy")

// Request describes one registry call a worker is about to make.
type Request struct {
	Tool      string
	Arguments string
	SessionID string
	PlanID    string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates tool calls against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine denies by qualified tool name, by whole category
// ("gmail_tool" or "gmail_tool.*"), or by a regex over the JSON arguments.
type DefaultPolicyEngine struct {
	DeniedTools map[string]bool
	DeniedRegex []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedTools: make(map[string]bool),
		DeniedRegex: make([]*regexp.Regexp, 0),
	}
}

// NewPolicyEngine builds an engine from configured tool names and argument
// patterns.
func NewPolicyEngine(deniedTools, deniedPatterns []string) (*DefaultPolicyEngine, error) {
	e := NewDefaultPolicyEngine()
	for _, t := range deniedTools {
		e.DenyTool(t)
	}
	for _, p := range deniedPatterns {
		if err := e.DenyArguments(p); err != nil {
			return nil, fmt.Errorf("invalid denied pattern %q: %w", p, err)
		}
	}
	return e, nil
}

func (e *DefaultPolicyEngine) DenyTool(name string) {
	e.DeniedTools[strings.TrimSuffix(strings.TrimSpace(name), ".*")] = true
}

func (e *DefaultPolicyEngine) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	category, _, _ := strings.Cut(req.Tool, ".")
	if e.DeniedTools[req.Tool] || e.DeniedTools[category] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Tool '%s' is restricted by system policy", req.Tool),
		}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Arguments) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Arguments match restricted pattern: %s", re.String()),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}

// Check evaluates req and turns a denial into an error wrapping ErrDenied.
// A nil engine allows everything.
func Check(ctx context.Context, engine PolicyEngine, req Request) (Result, error) {
	if engine == nil {
		return Result{Effect: EffectAllow, Reason: "no policy configured"}, nil
	}
	res, err := engine.Evaluate(ctx, req)
	if err != nil {
		return res, fmt.Errorf("policy evaluation failed: %w", err)
	}
	if res.Effect == EffectDeny {
		return res, fmt.Errorf("%w: %s", ErrDenied, res.Reason)
	}
	return res, nil
}
