package prover

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const subprocessTimeout = 120 * time.Second

// Result is the output of a successful proof generation.
type Result struct {
	Proof           string `json:"proof"`
	PublicInputs    string `json:"publicInputs"`
	ProofWithInputs string `json:"proofWithInputs"`
}

// Driver invokes the witness-generation and proof-generation binaries as
// subprocesses, following the CLI-subprocess pattern used throughout this
// codebase for external proof tooling.
type Driver struct {
	witnessBinPath string
	proveBinPath   string
	workDir        string
	logger         *log.Logger
}

func NewDriver(witnessBinPath, proveBinPath, workDir string, logger *log.Logger) *Driver {
	if logger == nil {
		logger = log.New(log.Writer(), "[Prover] ", log.LstdFlags)
	}
	return &Driver{witnessBinPath: witnessBinPath, proveBinPath: proveBinPath, workDir: workDir, logger: logger}
}

// Prove serializes circuitParams for circuitID, runs the witness then proof
// subprocesses with a keccak oracle hash, and returns the hex-encoded
// proof/publicInputs. The scratch directory is removed on every exit path.
func (d *Driver) Prove(ctx context.Context, circuitID string, params CircuitParams, requestID string) (*Result, error) {
	encoded, err := Encode(params)
	if err != nil {
		return nil, fmt.Errorf("prover: encode inputs: %w", err)
	}

	scratchDir := filepath.Join(d.workDir, fmt.Sprintf("prove_%s_%s", circuitID, uuid.NewString()))
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("prover: create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	inputFile := filepath.Join(scratchDir, "Prover.toml")
	if err := writeProverTOML(inputFile, circuitID, encoded); err != nil {
		return nil, fmt.Errorf("prover: write input file: %w", err)
	}

	witnessFile := filepath.Join(scratchDir, "witness.gz")
	if err := d.runSubprocess(ctx, d.witnessBinPath, []string{"execute", "-o", witnessFile, "-p", inputFile}, scratchDir); err != nil {
		return nil, fmt.Errorf("prover: witness generation: %w", err)
	}

	oracleHash := "keccak"
	proofFile := filepath.Join(scratchDir, "proof")
	publicInputsFile := filepath.Join(scratchDir, "public_inputs")
	if err := d.runSubprocess(ctx, d.proveBinPath, []string{
		"prove", "-w", witnessFile, "-o", proofFile,
		"--oracle_hash", oracleHash, "--public-inputs", publicInputsFile,
	}, scratchDir); err != nil {
		return nil, fmt.Errorf("prover: proof generation: %w", err)
	}

	proofBytes, err := os.ReadFile(proofFile)
	if err != nil {
		return nil, fmt.Errorf("prover: read proof file: %w", err)
	}
	publicInputBytes, err := os.ReadFile(publicInputsFile)
	if err != nil {
		return nil, fmt.Errorf("prover: read public inputs file: %w", err)
	}

	proofHex := "0x" + hex.EncodeToString(proofBytes)
	publicInputsHex := "0x" + hex.EncodeToString(publicInputBytes)

	return &Result{
		Proof:           proofHex,
		PublicInputs:    publicInputsHex,
		ProofWithInputs: proofHex + publicInputsHex[2:],
	}, nil
}

func (d *Driver) runSubprocess(ctx context.Context, binPath string, args []string, dir string) error {
	cmdCtx, cancel := context.WithTimeout(ctx, subprocessTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, binPath, args...)
	cmd.Dir = dir

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("subprocess %s failed: %s", filepath.Base(binPath), string(exitErr.Stderr))
		}
		return fmt.Errorf("subprocess %s error: %w", filepath.Base(binPath), err)
	}
	d.logger.Printf("%s: %s", filepath.Base(binPath), string(output))
	return nil
}

// writeProverTOML renders EncodedInputs into the prover's Prover.toml input
// file, with all fields rendered per their fixed-width encoding.
func writeProverTOML(path, circuitID string, in *EncodedInputs) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "circuit_id = %q\n", circuitID); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "raw_transaction = %q\n", hex.EncodeToString(in.RawTransaction[:])); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "signature = %q\n", hex.EncodeToString(in.SignatureRS[:])); err != nil {
		return err
	}

	if _, err := fmt.Fprint(f, "merkle_proof = ["); err != nil {
		return err
	}
	for i, entry := range in.MerkleProof {
		if i > 0 {
			if _, err := fmt.Fprint(f, ", "); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(f, "%q", hex.EncodeToString(entry)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(f, "]\n"); err != nil {
		return err
	}

	if _, err := fmt.Fprint(f, "country_list = ["); err != nil {
		return err
	}
	for i, code := range in.CountryList {
		if i > 0 {
			if _, err := fmt.Fprint(f, ", "); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(f, "%q", hex.EncodeToString(code[:])); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(f, "]\n"); err != nil {
		return err
	}

	if in.IsIncludedBool != "" {
		if _, err := fmt.Fprintf(f, "is_included = %s\n", in.IsIncludedBool); err != nil {
			return err
		}
	}

	return nil
}
