package skills

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/provenanceagent/proof-agent/pkg/config"
	"github.com/provenanceagent/proof-agent/pkg/kv"
	"github.com/provenanceagent/proof-agent/pkg/proofcache"
	"github.com/provenanceagent/proof-agent/pkg/prover"
	"github.com/provenanceagent/proof-agent/pkg/session"
	"github.com/provenanceagent/proof-agent/pkg/task"
	"github.com/provenanceagent/proof-agent/pkg/tee"
)

// fakeTEE always succeeds with fixed proof values and counts its calls so
// tests can assert on how often the prover was invoked.
type fakeTEE struct {
	calls int
}

func (f *fakeTEE) Prove(ctx context.Context, circuitID string, params prover.CircuitParams, requestID string) tee.ProveResult {
	f.calls++
	return tee.ProveResult{Type: "proof", Proof: "0xproof", PublicInputs: "0xinputs", ProofWithInputs: "0xboth"}
}
func (f *fakeTEE) HealthCheck(ctx context.Context) bool                      { return true }
func (f *fakeTEE) GetAttestation(ctx context.Context) (string, bool)         { return "", false }
func (f *fakeTEE) GenerateAttestation(ctx context.Context, hash string) (*tee.AttestationResult, bool) {
	return nil, false
}

func newTestDeps(t *testing.T, teeProvider tee.Provider) *Deps {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	return &Deps{
		Tasks:      task.NewStore(store, time.Hour),
		Requests:   session.NewStore(store, time.Hour),
		Cache:      proofcache.New(store, time.Hour),
		TEE:        teeProvider,
		Config:     &config.Config{PublicURL: "https://agent.example", ProofPriceUSD: "$0.10", SettlementNetwork: "eip155:84532"},
		SigningTTL: time.Hour,
	}
}

func dataOf(t *testing.T, r *Result) map[string]interface{} {
	t.Helper()
	require.Len(t, r.Artifacts, 1)
	require.Len(t, r.Artifacts[0].Parts, 1)
	data, ok := r.Artifacts[0].Parts[0].Data.(map[string]interface{})
	require.True(t, ok, "expected a data part")
	return data
}

func TestGetSupportedCircuits(t *testing.T) {
	deps := newTestDeps(t, &fakeTEE{})
	result, err := Dispatch(context.Background(), deps, "get_supported_circuits", map[string]interface{}{}, "")
	require.NoError(t, err)
	require.Equal(t, task.StateCompleted, result.Status)
	data := dataOf(t, result)
	circuits, ok := data["circuits"].([]map[string]interface{})
	require.True(t, ok)
	require.NotEmpty(t, circuits)
}

func TestRequestSigningProducesInputRequired(t *testing.T) {
	deps := newTestDeps(t, &fakeTEE{})
	result, err := Dispatch(context.Background(), deps, "request_signing", map[string]interface{}{
		"circuitId": "coinbase_attestation",
		"scope":     "test-scope",
	}, "ctx-1")
	require.NoError(t, err)
	require.Equal(t, task.StateInputRequired, result.Status)
	data := dataOf(t, result)
	require.NotEmpty(t, data["requestId"])

	bound, ok, err := deps.Tasks.GetContextFlow(context.Background(), "ctx-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, data["requestId"], bound)
}

func TestRequestSigningRejectsUnknownCircuit(t *testing.T) {
	deps := newTestDeps(t, &fakeTEE{})
	result, err := Dispatch(context.Background(), deps, "request_signing", map[string]interface{}{
		"circuitId": "does_not_exist",
		"scope":     "test-scope",
	}, "")
	require.NoError(t, err)
	require.Equal(t, task.StateFailed, result.Status)
}

func TestCheckStatusAutoFillsRequestIDFromContext(t *testing.T) {
	deps := newTestDeps(t, &fakeTEE{})
	ctx := context.Background()

	signing, err := Dispatch(ctx, deps, "request_signing", map[string]interface{}{
		"circuitId": "coinbase_attestation",
		"scope":     "test-scope",
	}, "ctx-2")
	require.NoError(t, err)
	requestID := dataOf(t, signing)["requestId"].(string)

	status, err := Dispatch(ctx, deps, "check_status", map[string]interface{}{}, "ctx-2")
	require.NoError(t, err)
	require.Equal(t, task.StateCompleted, status.Status)
	require.Equal(t, requestID, dataOf(t, status)["requestId"])
}

func TestCheckStatusWithoutContextOrRequestIDFails(t *testing.T) {
	deps := newTestDeps(t, &fakeTEE{})
	result, err := Dispatch(context.Background(), deps, "check_status", map[string]interface{}{}, "")
	require.NoError(t, err)
	require.Equal(t, task.StateFailed, result.Status)
}

func TestGenerateProofWithoutSignatureFallsBackToRequestSigning(t *testing.T) {
	deps := newTestDeps(t, &fakeTEE{})
	result, err := Dispatch(context.Background(), deps, "generate_proof", map[string]interface{}{
		"circuitId":   "coinbase_attestation",
		"scope":       "test-scope",
		"rawTransaction": "0xaa",
		"merkleProof": []interface{}{"0x1", "0x2"},
	}, "")
	require.NoError(t, err)
	require.Equal(t, task.StateInputRequired, result.Status)
}

func TestGenerateProofCompletesWithoutRawTransactionOrMerkleProof(t *testing.T) {
	fakeProver := &fakeTEE{}
	deps := newTestDeps(t, fakeProver)

	result, err := Dispatch(context.Background(), deps, "generate_proof", map[string]interface{}{
		"circuitId": "coinbase_attestation",
		"address":   "0x5555555555555555555555555555555555555555",
		"scope":     "test",
		"signature": "0x6666666666666666666666666666666666666666",
	}, "")
	require.NoError(t, err)
	require.Equal(t, task.StateCompleted, result.Status)
	require.Equal(t, 1, fakeProver.calls)
	data := dataOf(t, result)
	require.NotEmpty(t, data["proof"])
}

func TestGenerateProofCachesAcrossCalls(t *testing.T) {
	fakeProver := &fakeTEE{}
	deps := newTestDeps(t, fakeProver)
	ctx := context.Background()

	params := map[string]interface{}{
		"circuitId":      "coinbase_attestation",
		"scope":          "test-scope",
		"address":        "0x00000000000000000000000000000000000001",
		"signature":      "0xsig",
		"rawTransaction": "0xaa",
		"merkleProof":    []interface{}{"0x1", "0x2"},
	}

	first, err := Dispatch(ctx, deps, "generate_proof", params, "")
	require.NoError(t, err)
	require.Equal(t, task.StateCompleted, first.Status)
	require.Equal(t, 1, fakeProver.calls)
	require.Nil(t, dataOf(t, first)["cached"])

	second, err := Dispatch(ctx, deps, "generate_proof", params, "")
	require.NoError(t, err)
	require.Equal(t, 1, fakeProver.calls, "second call must be served from cache, not re-invoke the prover")
	require.Equal(t, true, dataOf(t, second)["cached"])
}
