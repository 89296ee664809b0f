package filter

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"logsentinel/pkg/models"
)

// Env is the environment filter expressions evaluate against. Optional
// event fields are flattened to zero values so rules never nil-check.
type Env struct {
	Source   string
	RawLine  string
	ParseOK  bool
	ClientIP string
	Method   string
	Path     string
	Status   int
	Level    string
	User     string
	Hostname string
	Verdict  string
	SrcIP    string
	DstIP    string
	Proto    string
	SrcPort  int
	DstPort  int
}

// Filter drops normalized events matched by any compiled rule.
type Filter struct {
	programs []*vm.Program
}

// New compiles the rule expressions. Each rule must evaluate to a bool;
// a true result drops the event.
func New(rules []string) (*Filter, error) {
	programs := make([]*vm.Program, 0, len(rules))
	for _, rule := range rules {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		program, err := expr.Compile(rule, expr.Env(Env{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile filter rule %q: %w", rule, err)
		}
		programs = append(programs, program)
	}
	return &Filter{programs: programs}, nil
}

// Drop reports whether any rule matches the event. Rules that error at
// runtime are treated as non-matching.
func (f *Filter) Drop(e *models.Event) bool {
	if f == nil || len(f.programs) == 0 {
		return false
	}
	env := envFrom(e)
	for _, program := range f.programs {
		out, err := expr.Run(program, env)
		if err != nil {
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return true
		}
	}
	return false
}

func envFrom(e *models.Event) Env {
	env := Env{
		Source:  string(e.Source),
		RawLine: e.RawLine,
		ParseOK: e.ParseOK,
	}
	if e.ClientIP != nil {
		env.ClientIP = *e.ClientIP
	}
	if e.Method != nil {
		env.Method = *e.Method
	}
	if e.Path != nil {
		env.Path = *e.Path
	}
	if e.Status != nil {
		env.Status = *e.Status
	}
	if e.Level != nil {
		env.Level = *e.Level
	}
	if e.User != nil {
		env.User = *e.User
	}
	if e.Hostname != nil {
		env.Hostname = *e.Hostname
	}
	if e.Verdict != nil {
		env.Verdict = *e.Verdict
	}
	if e.SrcIP != nil {
		env.SrcIP = *e.SrcIP
	}
	if e.DstIP != nil {
		env.DstIP = *e.DstIP
	}
	if e.Proto != nil {
		env.Proto = *e.Proto
	}
	if e.SrcPort != nil {
		env.SrcPort = *e.SrcPort
	}
	if e.DstPort != nil {
		env.DstPort = *e.DstPort
	}
	return env
}
