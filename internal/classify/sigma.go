package classify

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"logsentinel/pkg/models"
)

// SigmaLoadStats tracks the number of loaded and skipped rules.
type SigmaLoadStats struct {
	TotalFiles     int
	Loaded         int
	SkippedComplex int
	SkippedInvalid int
}

type compiledSigmaRule struct {
	rule  sigma.Rule
	eval  *sigmaevaluator.RuleEvaluator
	label string
	prob  float64
}

// SigmaClassifier scores windows with local Sigma rules, so the pipeline
// can run without an external model service. Rules are evaluated per
// event; the window's label is the highest-probability matching rule,
// with the rule's severity level mapped to a probability. A window no
// rule matches is healthy.
type SigmaClassifier struct {
	rules []compiledSigmaRule
}

// NewSigmaClassifier loads Sigma rules from a file or directory.
// Unsupported or complex rules are skipped and counted in stats.
func NewSigmaClassifier(path string) (*SigmaClassifier, SigmaLoadStats, error) {
	var stats SigmaLoadStats

	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve rule path: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, stats, fmt.Errorf("stat rule path: %w", err)
	}

	files := make([]string, 0, 64)
	if info.IsDir() {
		err = filepath.WalkDir(resolved, func(filePath string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if entry.IsDir() {
				return nil
			}
			if isYAMLFile(filePath) {
				files = append(files, filePath)
			}
			return nil
		})
		if err != nil {
			return nil, stats, fmt.Errorf("walk rule directory: %w", err)
		}
	} else {
		if !isYAMLFile(resolved) {
			return nil, stats, fmt.Errorf("rule file must end with .yml or .yaml: %s", resolved)
		}
		files = append(files, resolved)
	}

	stats.TotalFiles = len(files)
	compiled := make([]compiledSigmaRule, 0, len(files))
	for _, ruleFile := range files {
		raw, err := os.ReadFile(ruleFile)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}
		rule, err := sigma.ParseRule(raw)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}
		if ok, _ := isSimpleSingleEventRule(rule); !ok {
			stats.SkippedComplex++
			continue
		}

		compiled = append(compiled, compiledSigmaRule{
			rule:  rule,
			eval:  sigmaevaluator.ForRule(rule),
			label: labelFromRule(rule),
			prob:  probabilityFromLevel(rule.Level),
		})
		stats.Loaded++
	}

	return &SigmaClassifier{rules: compiled}, stats, nil
}

// Classify evaluates all loaded rules against every event in the window.
func (c *SigmaClassifier) Classify(ctx context.Context, w *models.Window) (*models.ClassificationResult, error) {
	best := &models.ClassificationResult{
		WindowID:    w.ID,
		Label:       models.LabelHealthy,
		Probability: 0.9,
	}
	if len(c.rules) == 0 {
		return best, nil
	}

	matched := false
	for _, e := range w.Events {
		if !e.ParseOK {
			continue
		}
		eventMap := sigmaEventFrom(e)
		for _, rule := range c.rules {
			res, err := rule.eval.Matches(ctx, eventMap)
			if err != nil {
				continue
			}
			if !res.Match {
				continue
			}
			if !matched || rule.prob > best.Probability {
				best = &models.ClassificationResult{
					WindowID:    w.ID,
					Label:       rule.label,
					Probability: rule.prob,
				}
				matched = true
			}
		}
	}
	return best, nil
}

func isYAMLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

func isSimpleSingleEventRule(rule sigma.Rule) (bool, string) {
	if rule.Detection.Timeframe > 0 {
		return false, "timeframe is not supported"
	}

	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil {
			return false, "aggregation condition is not supported"
		}
		if !isSimpleSearchExpression(cond.Search) {
			return false, "complex condition expression is not supported"
		}
	}

	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 {
			return false, "keyword search is not supported"
		}
		if len(search.EventMatchers) == 0 {
			return false, "search has no event matchers"
		}
	}

	return true, ""
}

func isSimpleSearchExpression(expr sigma.SearchExpr) bool {
	switch e := expr.(type) {
	case sigma.SearchIdentifier:
		return true
	case sigma.And:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Or:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Not:
		return isSimpleSearchExpression(e.Expr)
	default:
		return false
	}
}

// sigmaEventFrom flattens a normalized event into the field map Sigma
// matchers operate over.
func sigmaEventFrom(e *models.Event) map[string]interface{} {
	buf := make(map[string]interface{}, 16)
	buf["source"] = string(e.Source)
	buf["raw_line"] = e.RawLine
	if e.ClientIP != nil {
		buf["client_ip"] = *e.ClientIP
	}
	if e.Method != nil {
		buf["method"] = *e.Method
	}
	if e.Path != nil {
		buf["path"] = *e.Path
	}
	if e.Status != nil {
		buf["status"] = *e.Status
	}
	if e.Level != nil {
		buf["level"] = *e.Level
	}
	if e.User != nil {
		buf["user"] = *e.User
	}
	if e.UserAgent != nil {
		buf["user_agent"] = *e.UserAgent
	}
	if e.Hostname != nil {
		buf["hostname"] = *e.Hostname
	}
	if e.Verdict != nil {
		buf["verdict"] = *e.Verdict
	}
	if e.SrcIP != nil {
		buf["src_ip"] = *e.SrcIP
	}
	if e.DstIP != nil {
		buf["dst_ip"] = *e.DstIP
	}
	if e.Proto != nil {
		buf["proto"] = *e.Proto
	}
	if e.DstPort != nil {
		buf["dst_port"] = *e.DstPort
	}
	return buf
}

// labelFromRule normalizes a rule title into an attack-type label
// (lowercase, words joined with underscores).
func labelFromRule(rule sigma.Rule) string {
	title := strings.TrimSpace(rule.Title)
	if title == "" {
		title = strings.TrimSpace(rule.ID)
	}
	if title == "" {
		return "unknown"
	}
	return strings.ToLower(strings.Join(strings.Fields(title), "_"))
}

func probabilityFromLevel(level string) float64 {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "critical":
		return 0.95
	case "high":
		return 0.85
	case "medium":
		return 0.7
	case "low":
		return 0.5
	default:
		return 0.6
	}
}
