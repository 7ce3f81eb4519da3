// services/credential_rotator.go
package services

import (
	"fmt"
	"strings"
	"sync"
)

// Credential is one named API key in the rotation order.
type Credential struct {
	Name string
	Key  string
}

// CredentialRotator walks an ordered list of API credentials, switching the
// target provider to the next one when the active credential is exhausted.
// It is injected into the tagging service rather than living as package
// state so sessions stay independently testable; production constructs a
// single shared instance at startup because the quota it guards is shared
// process-wide.
type CredentialRotator struct {
	mu     sync.Mutex
	creds  []Credential
	cursor int
	target KeyedCompletionProvider
}

// NewCredentialRotator builds a rotator over creds, activating the first
// credential on the target immediately.
func NewCredentialRotator(creds []Credential, target KeyedCompletionProvider) (*CredentialRotator, error) {
	if len(creds) == 0 {
		return nil, fmt.Errorf("credential rotator needs at least one credential")
	}
	if target == nil {
		return nil, fmt.Errorf("credential rotator needs a target provider")
	}

	r := &CredentialRotator{creds: creds, target: target}
	r.target.UseAPIKey(creds[0].Key)
	return r, nil
}

// Activate configures the target provider to use the credential at index.
func (r *CredentialRotator) Activate(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.creds) {
		return fmt.Errorf("credential index %d out of range (have %d)", index, len(r.creds))
	}
	r.cursor = index
	r.target.UseAPIKey(r.creds[index].Key)
	fmt.Printf("[CredentialRotator] Activated credential %q (%d/%d)\n", r.creds[index].Name, index+1, len(r.creds))
	return nil
}

// SwitchToNext advances to the next credential and activates it. It returns
// false without mutating anything when the list is already exhausted.
// Repeated calls without an intervening success never skip a credential:
// each call moves the cursor exactly one position.
func (r *CredentialRotator) SwitchToNext() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cursor >= len(r.creds)-1 {
		fmt.Printf("[CredentialRotator] All %d credentials exhausted\n", len(r.creds))
		return false
	}
	r.cursor++
	r.target.UseAPIKey(r.creds[r.cursor].Key)
	fmt.Printf("[CredentialRotator] Switched to credential %q (%d/%d)\n", r.creds[r.cursor].Name, r.cursor+1, len(r.creds))
	return true
}

// ResetToFirst re-activates the first credential. Called at the start of
// every tagging session so a session does not inherit exhaustion state from
// a prior session that finished on a later key.
func (r *CredentialRotator) ResetToFirst() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cursor = 0
	r.target.UseAPIKey(r.creds[0].Key)
}

// CurrentIndex returns the active credential's position.
func (r *CredentialRotator) CurrentIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Size returns the number of credentials in rotation.
func (r *CredentialRotator) Size() int {
	return len(r.creds)
}

var quotaMarkers = []string{
	"quota",
	"rate limit",
	"rate_limit",
	"ratelimit",
	"resource_exhausted",
	"resource exhausted",
	"too many requests",
	"429",
}

// IsQuotaError classifies err as quota/rate-limit related by inspecting its
// message. Anything else is treated as non-retryable for the current item.
func (r *CredentialRotator) IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
