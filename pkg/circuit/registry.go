// Package circuit holds the static registry of ZK circuit descriptors every
// skill handler and the on-chain verifier's address table validate against.
package circuit

// Descriptor is a named ZK program with a fixed schema of required inputs.
type Descriptor struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"displayName"`
	Description      string   `json:"description"`
	EASSchemaID      string   `json:"easSchemaId"`
	FunctionSelector string   `json:"functionSelector"`
	RequiredInputs   []string `json:"requiredInputs"`
}

// registry is populated at build time; it is never mutated at runtime.
var registry = map[string]Descriptor{
	"coinbase_attestation": {
		ID:               "coinbase_attestation",
		DisplayName:      "Coinbase Verified Account",
		Description:      "Proves a signer holds a Coinbase attestation of verified-account status for a scope, without revealing the signer's address.",
		EASSchemaID:      "0xf8b05c79f090df9036bc64eb71e0e24cda1e29b3d25e8ad3f2de8b3c3d4c0ab",
		FunctionSelector: "0x1a2b3c4d",
		RequiredInputs:   []string{"rawTransaction", "signature", "merkleProof", "scope"},
	},
	"coinbase_country_attestation": {
		ID:               "coinbase_country_attestation",
		DisplayName:      "Coinbase Country Attestation",
		Description:      "Proves a signer's attested country is or is not a member of a disclosed country list, without revealing the country itself.",
		EASSchemaID:      "0x2c3d4e5f6071829304b5c6d7e8f9a0b1c2d3e4f5061728394a5b6c7d8e9f0a1",
		FunctionSelector: "0x5e6f7a8b",
		RequiredInputs:   []string{"rawTransaction", "signature", "merkleProof", "scope", "countryList", "isIncluded"},
	},
}

// Get looks up a circuit by id.
func Get(id string) (Descriptor, bool) {
	d, ok := registry[id]
	return d, ok
}

// All returns every registered circuit, in a stable order.
func All() []Descriptor {
	ids := []string{"coinbase_attestation", "coinbase_country_attestation"}
	out := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, registry[id])
	}
	return out
}
