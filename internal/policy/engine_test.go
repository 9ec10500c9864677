package policy

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func testEngine(t *testing.T) *OPAEngine {
	t.Helper()
	cfg := &Config{
		Enabled:    true,
		Mode:       ModeEnforce,
		Path:       "../../configs/policy",
		FailClosed: true,
	}
	engine, err := NewOPAEngine(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOPAEngine: %v", err)
	}
	if !engine.IsEnabled() {
		t.Fatalf("expected engine to be enabled with compiled policies")
	}
	return engine
}

func TestEvaluateCORSLoopback(t *testing.T) {
	engine := testEngine(t)
	d, err := engine.Evaluate(context.Background(), &PolicyInput{Check: "cors", Origin: "http://localhost:3000"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Allow {
		t.Fatalf("expected loopback origin to be allowed, got deny: %s", d.Reason)
	}
}

func TestEvaluateCORSPrivateIP(t *testing.T) {
	engine := testEngine(t)
	d, err := engine.Evaluate(context.Background(), &PolicyInput{Check: "cors", Origin: "http://192.168.1.20:8080"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Allow {
		t.Fatalf("expected private IPv4 origin to be allowed, got deny: %s", d.Reason)
	}
}

func TestEvaluateCORSPublicOriginDenied(t *testing.T) {
	engine := testEngine(t)
	d, err := engine.Evaluate(context.Background(), &PolicyInput{Check: "cors", Origin: "https://example.com"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Allow {
		t.Fatalf("expected public origin to be denied")
	}
}

func TestEvaluateDomainTagVocabulary(t *testing.T) {
	engine := testEngine(t)

	d, err := engine.Evaluate(context.Background(), &PolicyInput{Check: "domain_tag", DomainTag: "devops"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Allow {
		t.Fatalf("expected known domain tag to be allowed")
	}

	d, err = engine.Evaluate(context.Background(), &PolicyInput{Check: "domain_tag", DomainTag: "astrology"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Allow {
		t.Fatalf("expected unknown domain tag to be denied")
	}
}

func TestDisabledEngineAllowsByDefault(t *testing.T) {
	cfg := &Config{Enabled: false, Mode: ModeOff}
	engine, err := NewOPAEngine(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOPAEngine: %v", err)
	}
	d, err := engine.Evaluate(context.Background(), &PolicyInput{Check: "cors", Origin: "https://example.com"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Allow {
		t.Fatalf("expected disabled, fail-open engine to allow")
	}
}
