// Package policy implements the HTTP front-end's two admission checks —
// CORS origin restriction and domain-tag vocabulary validation — as a
// small embedded OPA/Rego policy, generalized from the teacher's
// OPAEngine (internal/policy/engine.go) with its canary-rollout, SLO
// monitoring, and vector-similarity fields trimmed: this engine has one
// process and no staged deployment, so none of that machinery applies.
package policy

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"
)

// Engine defines the policy evaluation interface.
type Engine interface {
	Evaluate(ctx context.Context, input *PolicyInput) (*Decision, error)
	LoadPolicies() error
	IsEnabled() bool
	Mode() Mode
}

// PolicyInput is the admission-check context: either a cross-origin
// request's Origin header, or a decomposition's proposed domain tag.
type PolicyInput struct {
	Check     string `json:"check"` // "cors" or "domain_tag"
	Origin    string `json:"origin,omitempty"`
	RemoteIP  string `json:"remote_ip,omitempty"`
	DomainTag string `json:"domain_tag,omitempty"`
}

// Decision is the policy evaluation result.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// OPAEngine implements Engine using a compiled Rego policy.
type OPAEngine struct {
	config   *Config
	logger   *zap.Logger
	compiled *rego.PreparedEvalQuery
	enabled  bool
	cache    *decisionCache
}

// NewOPAEngine creates a policy engine from cfg and compiles its policies
// if enabled.
func NewOPAEngine(config *Config, logger *zap.Logger) (*OPAEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := &OPAEngine{
		config:  config,
		logger:  logger,
		enabled: config.Enabled && config.Mode != ModeOff,
		cache:   newDecisionCache(1000, 5*time.Minute),
	}

	if engine.enabled {
		if err := engine.LoadPolicies(); err != nil {
			if config.FailClosed {
				return nil, fmt.Errorf("failed to load policies in fail-closed mode: %w", err)
			}
			logger.Warn("failed to load policies, running in fail-open mode", zap.Error(err))
			engine.enabled = false
		}
	}

	return engine, nil
}

// LoadPolicies loads and compiles every .rego file under the configured
// policy directory.
func (e *OPAEngine) LoadPolicies() error {
	if !e.config.Enabled {
		return nil
	}

	policies := make(map[string]string)
	err := filepath.Walk(e.config.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read policy file %s: %w", path, err)
		}
		relPath, _ := filepath.Rel(e.config.Path, path)
		moduleName := strings.TrimSuffix(relPath, ".rego")
		policies[moduleName] = string(content)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk policy directory: %w", err)
	}

	if len(policies) == 0 {
		e.logger.Warn("no policy files found", zap.String("path", e.config.Path))
		if e.config.FailClosed {
			return fmt.Errorf("no policies found in fail-closed mode")
		}
		return nil
	}

	regoOptions := []func(*rego.Rego){rego.Query("data.orchestrator.admission.decision")}
	for moduleName, content := range policies {
		regoOptions = append(regoOptions, rego.Module(moduleName, content))
	}

	compiled, err := rego.New(regoOptions...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("compile policies: %w", err)
	}
	e.compiled = &compiled

	RecordPolicyLoad(e.config.Path, len(policies), float64(time.Now().Unix()))
	e.logger.Info("policies loaded and compiled", zap.Int("policy_count", len(policies)))
	return nil
}

// Evaluate evaluates input against the compiled policy.
func (e *OPAEngine) Evaluate(ctx context.Context, input *PolicyInput) (*Decision, error) {
	start := time.Now()
	defaultDecision := &Decision{Allow: !e.config.FailClosed, Reason: "policy engine disabled or no policies loaded"}

	if !e.enabled || e.compiled == nil {
		return defaultDecision, nil
	}

	if d, ok := e.cache.Get(input); ok {
		RecordCacheHit(string(e.config.Mode))
		return d, nil
	}
	RecordCacheMiss(string(e.config.Mode))

	inputMap, err := e.inputToMap(input)
	if err != nil {
		RecordError("input_conversion", string(e.config.Mode))
		if e.config.FailClosed {
			return &Decision{Allow: false, Reason: "input conversion failed"}, err
		}
		return defaultDecision, nil
	}

	results, err := e.compiled.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		e.logger.Error("policy evaluation failed", zap.Error(err))
		RecordError("policy_evaluation", string(e.config.Mode))
		if e.config.FailClosed {
			return &Decision{Allow: false, Reason: "policy evaluation error"}, err
		}
		return defaultDecision, nil
	}

	decision := e.parseResults(results)
	if e.config.Mode == ModeDryRun && !decision.Allow {
		e.logger.Info("dry-run would deny", zap.String("check", input.Check), zap.String("reason", decision.Reason))
		decision = &Decision{Allow: true, Reason: "dry-run: would deny (" + decision.Reason + ")"}
	}

	RecordEvaluation(decision.Allow, string(e.config.Mode))
	RecordDuration(string(e.config.Mode), time.Since(start).Seconds())

	e.cache.Set(input, decision)
	return decision, nil
}

// IsEnabled reports whether the engine is enabled and has compiled policies.
func (e *OPAEngine) IsEnabled() bool { return e.enabled && e.compiled != nil }

// Mode returns the configured enforcement mode.
func (e *OPAEngine) Mode() Mode { return e.config.Mode }

func (e *OPAEngine) inputToMap(input *PolicyInput) (map[string]interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *OPAEngine) parseResults(results rego.ResultSet) *Decision {
	decision := &Decision{Allow: false, Reason: "no matching policy rules"}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decision
	}

	value := results[0].Expressions[0].Value
	if valueMap, ok := value.(map[string]interface{}); ok {
		if allow, ok := valueMap["allow"].(bool); ok {
			decision.Allow = allow
		}
		if reason, ok := valueMap["reason"].(string); ok {
			decision.Reason = reason
		}
		return decision
	}
	if allow, ok := value.(bool); ok {
		decision.Allow = allow
		if allow {
			decision.Reason = "allowed by policy"
		} else {
			decision.Reason = "denied by policy"
		}
	}
	return decision
}

// --- decision cache: LRU with TTL, keyed on the evaluated input ---

type decisionCache struct {
	cap    int
	ttl    time.Duration
	mu     sync.Mutex
	list   *list.List
	m      map[string]*list.Element
	hits   int64
	misses int64
}

type cacheEntry struct {
	key       string
	expiresAt time.Time
	decision  *Decision
}

func newDecisionCache(cap int, ttl time.Duration) *decisionCache {
	if cap <= 0 {
		cap = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &decisionCache{cap: cap, ttl: ttl, list: list.New(), m: make(map[string]*list.Element)}
}

func (c *decisionCache) makeKey(input *PolicyInput) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(input.Origin + "|" + input.DomainTag)))
	return fmt.Sprintf("%s|%x", input.Check, h.Sum64())
}

func (c *decisionCache) Get(input *PolicyInput) (*Decision, bool) {
	key := c.makeKey(input)
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		ce := el.Value.(cacheEntry)
		if ce.expiresAt.After(now) {
			c.list.MoveToFront(el)
			atomic.AddInt64(&c.hits, 1)
			return ce.decision, true
		}
		c.list.Remove(el)
		delete(c.m, key)
	}
	atomic.AddInt64(&c.misses, 1)
	return nil, false
}

func (c *decisionCache) Set(input *PolicyInput, d *Decision) {
	key := c.makeKey(input)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		el.Value = cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d}
		c.list.MoveToFront(el)
		return
	}
	el := c.list.PushFront(cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d})
	c.m[key] = el
	if c.list.Len() > c.cap {
		if lru := c.list.Back(); lru != nil {
			delete(c.m, lru.Value.(cacheEntry).key)
			c.list.Remove(lru)
		}
	}
}

// Stats returns cumulative cache hit/miss counts.
func (c *decisionCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}
