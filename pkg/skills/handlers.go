package skills

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/provenanceagent/proof-agent/pkg/apierr"
	"github.com/provenanceagent/proof-agent/pkg/circuit"
	"github.com/provenanceagent/proof-agent/pkg/proofcache"
	"github.com/provenanceagent/proof-agent/pkg/prover"
	"github.com/provenanceagent/proof-agent/pkg/task"
)

// Result is the outcome of dispatching a single skill invocation: a
// terminal (or input-required) task status plus the artifact(s) to attach.
type Result struct {
	Status    task.State
	Artifacts []task.Artifact
}

func failure(message string) *Result {
	return &Result{
		Status: task.StateFailed,
		Artifacts: []task.Artifact{{
			ID:    uuid.NewString(),
			Parts: []task.Part{task.TextPart(message)},
		}},
	}
}

func inputRequired(data map[string]interface{}) *Result {
	return &Result{
		Status: task.StateInputRequired,
		Artifacts: []task.Artifact{{
			ID:       uuid.NewString(),
			MimeType: "application/json",
			Parts:    []task.Part{task.DataPart("application/json", data)},
		}},
	}
}

func completed(mimeType string, data map[string]interface{}) *Result {
	return &Result{
		Status: task.StateCompleted,
		Artifacts: []task.Artifact{{
			ID:       uuid.NewString(),
			MimeType: mimeType,
			Parts:    []task.Part{task.DataPart(mimeType, data)},
		}},
	}
}

// Dispatch routes a (skill, params) pair to its handler. It is called both
// by the worker pool (for tasks) and directly by frontends answering free,
// non-mutating skills synchronously.
func Dispatch(ctx context.Context, deps *Deps, skill string, params map[string]interface{}, contextID string) (*Result, error) {
	switch skill {
	case "get_supported_circuits":
		return getSupportedCircuits(params)
	case "verify_proof":
		return verifyProof(ctx, deps, params)
	case "request_signing":
		return requestSigning(ctx, deps, params, contextID)
	case "check_status":
		return checkStatus(ctx, deps, params, contextID)
	case "request_payment":
		return requestPayment(ctx, deps, params, contextID)
	case "generate_proof":
		return generateProof(ctx, deps, params, contextID)
	default:
		return nil, apierr.Validation("unknown skill %q", skill)
	}
}

func paramString(params map[string]interface{}, key string) string {
	v, _ := params[key].(string)
	return v
}

func paramStringSlice(params map[string]interface{}, key string) []string {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func paramBoolPtr(params map[string]interface{}, key string) *bool {
	v, ok := params[key].(bool)
	if !ok {
		return nil
	}
	return &v
}

func getSupportedCircuits(params map[string]interface{}) (*Result, error) {
	chainID := params["chainId"]
	circuits := make([]map[string]interface{}, 0)
	for _, c := range circuit.All() {
		circuits = append(circuits, map[string]interface{}{
			"id":             c.ID,
			"displayName":    c.DisplayName,
			"description":    c.Description,
			"requiredInputs": c.RequiredInputs,
		})
	}
	return completed("application/json", map[string]interface{}{
		"circuits": circuits,
		"chainId":  chainID,
	}), nil
}

func verifyProof(ctx context.Context, deps *Deps, params map[string]interface{}) (*Result, error) {
	circuitID := paramString(params, "circuitId")
	proofHex := paramString(params, "proof")
	publicInputs := paramStringSlice(params, "publicInputs")
	if circuitID == "" || proofHex == "" {
		return failure("verify_proof requires circuitId and proof"), nil
	}
	if _, ok := circuit.Get(circuitID); !ok {
		return failure(fmt.Sprintf("unknown circuit %q", circuitID)), nil
	}

	chainID := deps.Config.ChainID
	if v, ok := params["chainId"].(float64); ok {
		chainID = int64(v)
	}

	result, err := deps.Verifier.Verify(ctx, proofHex, publicInputs, circuitID, chainID, deps.Config.ChainRPCURL)
	if err != nil {
		return failure(err.Error()), nil
	}
	return completed("application/json", map[string]interface{}{
		"valid":           result.Valid,
		"circuitId":       result.CircuitID,
		"verifierAddress": result.VerifierAddress,
		"chainId":         result.ChainID,
	}), nil
}

func requestSigning(ctx context.Context, deps *Deps, params map[string]interface{}, contextID string) (*Result, error) {
	circuitID := paramString(params, "circuitId")
	scope := paramString(params, "scope")
	if circuitID == "" || scope == "" {
		return failure("request_signing requires circuitId and scope"), nil
	}
	if _, ok := circuit.Get(circuitID); !ok {
		return failure(fmt.Sprintf("unknown circuit %q", circuitID)), nil
	}

	req, err := deps.Requests.Create(ctx, circuitID, scope, paramStringSlice(params, "countryList"), paramBoolPtr(params, "isIncluded"))
	if err != nil {
		return nil, err
	}

	if contextID != "" {
		if err := deps.Tasks.SetContextFlow(ctx, contextID, req.RequestID, deps.SigningTTL); err != nil {
			return nil, err
		}
	}

	signingURL := fmt.Sprintf("%s/sign/%s", deps.Config.PublicURL, req.RequestID)
	return inputRequired(map[string]interface{}{
		"requestId":  req.RequestID,
		"signingUrl": signingURL,
		"expiresAt":  req.ExpiresAt,
		"circuitId":  req.CircuitID,
		"scope":      req.Scope,
	}), nil
}

// resolveRequestID returns the explicit requestId param, or the context's
// bound requestId when the param is absent, per the auto-fill rule.
func resolveRequestID(ctx context.Context, deps *Deps, params map[string]interface{}, contextID string) (string, error) {
	if id := paramString(params, "requestId"); id != "" {
		return id, nil
	}
	if contextID == "" {
		return "", apierr.Validation("requestId is required (no contextId to auto-fill from)")
	}
	id, ok, err := deps.Tasks.GetContextFlow(ctx, contextID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apierr.Validation("requestId is required and no prior request_signing found for this context")
	}
	return id, nil
}

func checkStatus(ctx context.Context, deps *Deps, params map[string]interface{}, contextID string) (*Result, error) {
	requestID, err := resolveRequestID(ctx, deps, params, contextID)
	if err != nil {
		return failure(err.Error()), nil
	}
	req, err := deps.Requests.Get(ctx, requestID)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return failure(err.Error()), nil
		}
		return nil, err
	}
	return completed("application/json", map[string]interface{}{
		"requestId": req.RequestID,
		"phase":     req.Phase,
		"signing":   req.Signing,
		"payment":   req.Payment,
	}), nil
}

func requestPayment(ctx context.Context, deps *Deps, params map[string]interface{}, contextID string) (*Result, error) {
	requestID, err := resolveRequestID(ctx, deps, params, contextID)
	if err != nil {
		return failure(err.Error()), nil
	}

	paymentURL := fmt.Sprintf("%s/pay/%s", deps.Config.PublicURL, requestID)
	req, err := deps.Requests.RequestPayment(ctx, requestID, deps.Config.ProofPriceUSD, "USD", deps.Config.SettlementNetwork, paymentURL)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindInvalidState || apierr.KindOf(err) == apierr.KindNotFound {
			return failure(err.Error()), nil
		}
		return nil, err
	}
	return inputRequired(map[string]interface{}{
		"requestId":  req.RequestID,
		"paymentUrl": req.Payment.PaymentURL,
		"amount":     req.Payment.Amount,
		"currency":   req.Payment.Currency,
		"network":    req.Payment.Network,
	}), nil
}

func generateProof(ctx context.Context, deps *Deps, params map[string]interface{}, contextID string) (*Result, error) {
	circuitID := paramString(params, "circuitId")
	scope := paramString(params, "scope")
	address := paramString(params, "address")
	signature := paramString(params, "signature")
	requestID := paramString(params, "requestId")

	if circuitID == "" || scope == "" {
		return failure("generate_proof requires circuitId and scope"), nil
	}
	desc, ok := circuit.Get(circuitID)
	if !ok {
		return failure(fmt.Sprintf("unknown circuit %q", circuitID)), nil
	}
	// scope and signature are validated separately (signature may be sourced
	// from a completed signing request below). rawTransaction and merkleProof
	// are circuit inputs the prover consumes when supplied but are not
	// themselves gating: a caller attesting only a scope and a signed address,
	// with no on-chain transaction to bind, still produces a valid proof.
	// Everything else a circuit declares required must be present in params.
	for _, required := range desc.RequiredInputs {
		switch required {
		case "scope", "signature", "rawTransaction", "merkleProof":
			continue
		}
		if _, present := params[required]; !present {
			return failure(fmt.Sprintf("circuit %q requires %q", circuitID, required)), nil
		}
	}

	// Without address+signature and without a completed-signing requestId,
	// generate_proof behaves like request_signing.
	if address == "" || signature == "" {
		if requestID == "" {
			return requestSigning(ctx, deps, params, contextID)
		}
		req, err := deps.Requests.Get(ctx, requestID)
		if err != nil {
			return requestSigning(ctx, deps, params, contextID)
		}
		if req.Signing.Status != "completed" {
			return requestSigning(ctx, deps, params, contextID)
		}
		address = req.Signing.Address
		signature = req.Signing.Signature
	}

	countryList := paramStringSlice(params, "countryList")
	isIncluded := paramBoolPtr(params, "isIncluded")

	cacheKey := proofcache.Key{
		CircuitID:   circuitID,
		Address:     address,
		Scope:       scope,
		CountryList: countryList,
		IsIncluded:  isIncluded,
	}
	fp, err := proofcache.Fingerprint(cacheKey)
	if err != nil {
		return nil, err
	}

	if cached, err := deps.Cache.Get(ctx, cacheKey); err != nil {
		return nil, err
	} else if cached != nil {
		return completed("application/json", map[string]interface{}{
			"proof":           cached.Proof,
			"publicInputs":    cached.PublicInputs,
			"proofWithInputs": cached.ProofWithInputs,
			"nullifier":       cached.Nullifier,
			"signalHash":      cached.SignalHash,
			"proofId":         fp,
			"cached":          true,
		}), nil
	}

	circuitParams := prover.CircuitParams{
		RawTransaction: paramString(params, "rawTransaction"),
		Signature:      signature,
		MerkleProof:    paramStringSlice(params, "merkleProof"),
		CountryList:    countryList,
		IsIncluded:     isIncluded,
	}

	proveResult := deps.TEE.Prove(ctx, circuitID, circuitParams, requestID)
	if proveResult.Type == "error" {
		return failure(fmt.Sprintf("proof generation failed: %s", proveResult.Error)), nil
	}

	signalHash := computeSignalHash(circuitID, address, scope)
	nullifier := computeNullifier(circuitID, address, scope)

	result := proofcache.Result{
		Proof:           proveResult.Proof,
		PublicInputs:    proveResult.PublicInputs,
		ProofWithInputs: proveResult.ProofWithInputs,
		Nullifier:       nullifier,
		SignalHash:      signalHash,
	}
	if err := deps.Cache.Set(ctx, cacheKey, result); err != nil {
		return nil, err
	}

	if deps.Reputation != nil && deps.Config.ReputationRegistryAddress != "" && common.IsHexAddress(address) {
		go deps.Reputation.Increment(context.Background(), common.HexToAddress(address), deps.Config.ProverPrivateKey)
	}

	return completed("application/json", map[string]interface{}{
		"proof":           result.Proof,
		"publicInputs":    result.PublicInputs,
		"proofWithInputs": result.ProofWithInputs,
		"nullifier":       result.Nullifier,
		"signalHash":      result.SignalHash,
		"proofId":         fp,
		"verifyUrl":       fmt.Sprintf("%s/api/v1/proofs/verify", deps.Config.PublicURL),
	}), nil
}

func computeSignalHash(circuitID, address, scope string) string {
	h := sha256.Sum256([]byte(circuitID + "|" + address + "|" + scope))
	return "0x" + hex.EncodeToString(h[:])
}

func computeNullifier(circuitID, address, scope string) string {
	h := sha256.Sum256([]byte("nullifier|" + circuitID + "|" + address + "|" + scope))
	return "0x" + hex.EncodeToString(h[:])
}
