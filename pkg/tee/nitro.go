package tee

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/sys/unix"

	"github.com/provenanceagent/proof-agent/pkg/prover"
)

// vsockRequest/vsockResponse are the CBOR-framed messages exchanged with the
// enclave over AF_VSOCK.
type vsockRequest struct {
	Op        string               `cbor:"op"`
	CircuitID string               `cbor:"circuitId,omitempty"`
	Params    prover.CircuitParams `cbor:"params,omitempty"`
	RequestID string               `cbor:"requestId,omitempty"`
	ProofHash string               `cbor:"proofHash,omitempty"`
}

type vsockResponse struct {
	OK              bool   `cbor:"ok"`
	Error           string `cbor:"error,omitempty"`
	Proof           string `cbor:"proof,omitempty"`
	PublicInputs    string `cbor:"publicInputs,omitempty"`
	ProofWithInputs string `cbor:"proofWithInputs,omitempty"`
	AttestationDoc  string `cbor:"attestationDocument,omitempty"`
}

// NitroProvider proves by round-tripping requests to an enclave over vsock.
// Any connection or timeout failure yields a {type:"error"} response rather
// than propagating — the enclave is an untrusted-to-be-up external
// collaborator from the provider abstraction's point of view.
type NitroProvider struct {
	cid     uint32
	port    uint32
	timeout time.Duration
}

func NewNitroProvider(cid, port uint32, timeout time.Duration) *NitroProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NitroProvider{cid: cid, port: port, timeout: timeout}
}

func (p *NitroProvider) dial() (net.Conn, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("tee/nitro: socket: %w", err)
	}
	addr := &unix.SockaddrVM{CID: p.cid, Port: p.port}
	if err := unix.Connect(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tee/nitro: connect: %w", err)
	}
	file := os.NewFile(uintptr(fd), "vsock")
	conn, err := net.FileConn(file)
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("tee/nitro: fileconn: %w", err)
	}
	return conn, nil
}

func (p *NitroProvider) roundTrip(ctx context.Context, req vsockRequest) (*vsockResponse, error) {
	conn, err := p.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("tee/nitro: set deadline: %w", err)
	}

	payload, err := cbor.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("tee/nitro: encode request: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("tee/nitro: write: %w", err)
	}

	buf := make([]byte, 1<<20)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("tee/nitro: read: %w", err)
	}

	var resp vsockResponse
	if err := cbor.Unmarshal(buf[:n], &resp); err != nil {
		return nil, fmt.Errorf("tee/nitro: decode response: %w", err)
	}
	return &resp, nil
}

func (p *NitroProvider) Prove(ctx context.Context, circuitID string, params prover.CircuitParams, requestID string) ProveResult {
	resp, err := p.roundTrip(ctx, vsockRequest{Op: "prove", CircuitID: circuitID, Params: params, RequestID: requestID})
	if err != nil {
		return errorResult(err.Error())
	}
	if !resp.OK {
		return errorResult(resp.Error)
	}
	return ProveResult{
		Type:            "proof",
		Proof:           resp.Proof,
		PublicInputs:    resp.PublicInputs,
		ProofWithInputs: resp.ProofWithInputs,
		AttestationDoc:  resp.AttestationDoc,
	}
}

func (p *NitroProvider) HealthCheck(ctx context.Context) bool {
	resp, err := p.roundTrip(ctx, vsockRequest{Op: "health"})
	return err == nil && resp.OK
}

func (p *NitroProvider) GetAttestation(ctx context.Context) (string, bool) {
	resp, err := p.roundTrip(ctx, vsockRequest{Op: "attestation"})
	if err != nil || !resp.OK {
		return "", false
	}
	return resp.AttestationDoc, true
}

func (p *NitroProvider) GenerateAttestation(ctx context.Context, proofHash string) (*AttestationResult, bool) {
	resp, err := p.roundTrip(ctx, vsockRequest{Op: "generate_attestation", ProofHash: proofHash})
	if err != nil || !resp.OK {
		return nil, false
	}
	return &AttestationResult{
		Document:  resp.AttestationDoc,
		Mode:      string(ModeNitro),
		ProofHash: proofHash,
		Timestamp: time.Now(),
	}, true
}
