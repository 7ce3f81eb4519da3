package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// fakeKeyedProvider records every key activation.
type fakeKeyedProvider struct {
	activeKey string
	history   []string
}

func (f *fakeKeyedProvider) Name() string { return "fake" }

func (f *fakeKeyedProvider) Complete(ctx context.Context, prompt string, opts CompletionOptions) (*CompletionResult, error) {
	return &CompletionResult{Text: "{}"}, nil
}

func (f *fakeKeyedProvider) UseAPIKey(key string) {
	f.activeKey = key
	f.history = append(f.history, key)
}

func threeCredentials() []Credential {
	return []Credential{
		{Name: "primary", Key: "key-1"},
		{Name: "secondary", Key: "key-2"},
		{Name: "tertiary", Key: "key-3"},
	}
}

func TestNewCredentialRotatorActivatesFirst(t *testing.T) {
	provider := &fakeKeyedProvider{}
	r, err := NewCredentialRotator(threeCredentials(), provider)
	if err != nil {
		t.Fatalf("NewCredentialRotator failed: %v", err)
	}
	if provider.activeKey != "key-1" {
		t.Errorf("active key = %q, want key-1", provider.activeKey)
	}
	if r.CurrentIndex() != 0 {
		t.Errorf("cursor = %d, want 0", r.CurrentIndex())
	}
}

func TestNewCredentialRotatorRejectsEmpty(t *testing.T) {
	if _, err := NewCredentialRotator(nil, &fakeKeyedProvider{}); err == nil {
		t.Error("expected error for empty credential list")
	}
	if _, err := NewCredentialRotator(threeCredentials(), nil); err == nil {
		t.Error("expected error for nil target")
	}
}

func TestSwitchToNextWalksInOrder(t *testing.T) {
	provider := &fakeKeyedProvider{}
	r, _ := NewCredentialRotator(threeCredentials(), provider)

	if !r.SwitchToNext() {
		t.Fatal("first switch should succeed")
	}
	if provider.activeKey != "key-2" {
		t.Errorf("active key = %q, want key-2", provider.activeKey)
	}

	if !r.SwitchToNext() {
		t.Fatal("second switch should succeed")
	}
	if provider.activeKey != "key-3" {
		t.Errorf("active key = %q, want key-3", provider.activeKey)
	}
}

func TestSwitchToNextExhaustion(t *testing.T) {
	provider := &fakeKeyedProvider{}
	r, _ := NewCredentialRotator(threeCredentials(), provider)

	r.SwitchToNext()
	r.SwitchToNext()

	// Exhausted: further switches fail and must not move the cursor or
	// touch the provider.
	before := len(provider.history)
	for i := 0; i < 3; i++ {
		if r.SwitchToNext() {
			t.Fatal("switch past the last credential should fail")
		}
	}
	if r.CurrentIndex() != 2 {
		t.Errorf("cursor moved after exhaustion: %d", r.CurrentIndex())
	}
	if len(provider.history) != before {
		t.Errorf("provider touched after exhaustion: %v", provider.history)
	}
}

func TestResetToFirst(t *testing.T) {
	provider := &fakeKeyedProvider{}
	r, _ := NewCredentialRotator(threeCredentials(), provider)

	r.SwitchToNext()
	r.SwitchToNext()
	r.ResetToFirst()

	if r.CurrentIndex() != 0 {
		t.Errorf("cursor = %d after reset, want 0", r.CurrentIndex())
	}
	if provider.activeKey != "key-1" {
		t.Errorf("active key = %q after reset, want key-1", provider.activeKey)
	}

	// A fresh session after reset walks the full list again.
	if !r.SwitchToNext() || !r.SwitchToNext() {
		t.Error("full rotation should be available after reset")
	}
}

func TestActivateOutOfRange(t *testing.T) {
	r, _ := NewCredentialRotator(threeCredentials(), &fakeKeyedProvider{})
	if err := r.Activate(-1); err == nil {
		t.Error("expected error for negative index")
	}
	if err := r.Activate(3); err == nil {
		t.Error("expected error for index past end")
	}
	if err := r.Activate(1); err != nil {
		t.Errorf("Activate(1) failed: %v", err)
	}
}

func TestIsQuotaError(t *testing.T) {
	r, _ := NewCredentialRotator(threeCredentials(), &fakeKeyedProvider{})

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"quota exceeded", errors.New("Quota exceeded for quota metric"), true},
		{"http 429", errors.New("gemini API returned status 429: too fast"), true},
		{"resource exhausted", errors.New("rpc error: RESOURCE_EXHAUSTED"), true},
		{"rate limit", errors.New("Rate limit reached for requests"), true},
		{"too many requests", errors.New("Too Many Requests"), true},
		{"wrapped", fmt.Errorf("batch 3: %w", errors.New("quota exhausted")), true},
		{"plain failure", errors.New("connection refused"), false},
		{"bad json", errors.New("failed to decode response: unexpected EOF"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.IsQuotaError(tt.err); got != tt.want {
				t.Errorf("IsQuotaError(%v) = %t, want %t", tt.err, got, tt.want)
			}
		})
	}
}
