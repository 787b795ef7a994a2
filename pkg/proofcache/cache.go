// Package proofcache maps a deterministic fingerprint of a proof request to
// a previously computed proof artifact, so identical generate_proof calls
// within the cache TTL never re-invoke the prover.
package proofcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/provenanceagent/proof-agent/pkg/kv"
)

// Key describes the inputs a generate_proof call is fingerprinted on.
type Key struct {
	CircuitID   string   `json:"circuitId"`
	Address     string   `json:"address"`
	Scope       string   `json:"scope"`
	CountryList []string `json:"countryList,omitempty"`
	IsIncluded  *bool    `json:"isIncluded,omitempty"`
}

// Result is a previously produced proof artifact.
type Result struct {
	Proof           string `json:"proof"`
	PublicInputs    string `json:"publicInputs"`
	ProofWithInputs string `json:"proofWithInputs"`
	Nullifier       string `json:"nullifier"`
	SignalHash      string `json:"signalHash"`
}

// Cache wraps the kv gateway with the canonical-JSON fingerprinting scheme.
type Cache struct {
	store kv.Store
	ttl   time.Duration
}

func New(store kv.Store, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl}
}

// Fingerprint produces the stable "proof:<sha256>" key for a Key value.
// Canonical JSON requires sorted object keys; Go's encoding/json emits
// struct fields in their declared order rather than sorted, so the keys are
// sorted here by hand to guarantee cross-implementation stability
// regardless of struct layout.
func Fingerprint(k Key) (string, error) {
	canon := map[string]interface{}{
		"circuitId": k.CircuitID,
		"address":   k.Address,
		"scope":     k.Scope,
	}
	if len(k.CountryList) > 0 {
		canon["countryList"] = k.CountryList
	}
	if k.IsIncluded != nil {
		canon["isIncluded"] = *k.IsIncluded
	}

	keys := make([]string, 0, len(canon))
	for key := range canon {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 256)
	ordered = append(ordered, '{')
	for i, key := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return "", fmt.Errorf("proofcache: marshal key: %w", err)
		}
		valJSON, err := json.Marshal(canon[key])
		if err != nil {
			return "", fmt.Errorf("proofcache: marshal value: %w", err)
		}
		ordered = append(ordered, keyJSON...)
		ordered = append(ordered, ':')
		ordered = append(ordered, valJSON...)
	}
	ordered = append(ordered, '}')

	sum := sha256.Sum256(ordered)
	return "proof:" + hex.EncodeToString(sum[:]), nil
}

// Get returns the cached Result for Key, or (nil, nil) on a cache miss.
func (c *Cache) Get(ctx context.Context, k Key) (*Result, error) {
	key, err := Fingerprint(k)
	if err != nil {
		return nil, err
	}
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("proofcache: get: %w", err)
	}
	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("proofcache: unmarshal: %w", err)
	}
	return &result, nil
}

// Set stores a Result under Key's fingerprint with the cache's configured TTL.
func (c *Cache) Set(ctx context.Context, k Key, result Result) error {
	key, err := Fingerprint(k)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("proofcache: marshal: %w", err)
	}
	if err := c.store.Set(ctx, key, string(raw), c.ttl); err != nil {
		return fmt.Errorf("proofcache: set: %w", err)
	}
	return nil
}

// Invalidate deletes the cached entry for Key, if any.
func (c *Cache) Invalidate(ctx context.Context, k Key) error {
	key, err := Fingerprint(k)
	if err != nil {
		return err
	}
	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("proofcache: invalidate: %w", err)
	}
	return nil
}
