package protocol

const (
	// KeySize is the length of an x25519 public key.
	KeySize = 32
	// NonceSize is the length of the 128-bit nonce attached to a computation.
	NonceSize = 16
	// CiphertextSize is the length of one sealed 64-bit field.
	CiphertextSize = 24
	// ProofSize is the length of the compute result authenticity proof.
	ProofSize = 64
	// ResultFields is the number of ciphertext blocks in a match result: matched, fill price, fill quantity.
	ResultFields = 3
)

// ComputeOutcome tells whether a computation produced a result.
type ComputeOutcome uint8

const (
	ComputeSuccess ComputeOutcome = 0
	ComputeAborted ComputeOutcome = 1
)

func (o ComputeOutcome) String() string {
	if o == ComputeSuccess {
		return "success"
	}
	return "aborted"
}

// ComputeRequest is what the orchestrator hands to the secure computation service.
// BuyOrder and SellOrder are the owners' sealed orders; each carries its encrypted
// price and quantity. The result is encrypted for RecipientKey under Nonce.
type ComputeRequest struct {
	Correlator   string          `json:"correlator"`
	RecipientKey [KeySize]byte   `json:"recipient_key"`
	Nonce        [NonceSize]byte `json:"nonce"`
	BuyOrder     []byte          `json:"buy_order"`
	SellOrder    []byte          `json:"sell_order"`
}

// ComputeCallback is delivered by the compute service once a computation ends.
// On ComputeAborted only Correlator and Reason are meaningful.
type ComputeCallback struct {
	Correlator  string                             `json:"correlator"`
	Outcome     ComputeOutcome                     `json:"outcome"`
	Ciphertexts [ResultFields][CiphertextSize]byte `json:"ciphertexts"`
	Nonce       [NonceSize]byte                    `json:"nonce"`
	Proof       [ProofSize]byte                    `json:"proof"`
	Reason      string                             `json:"reason,omitempty"`
}

// Payload flattens the result ciphertexts and nonce into the opaque match payload stored on the execution.
func (cb *ComputeCallback) Payload() []byte {
	out := make([]byte, 0, ResultFields*CiphertextSize+NonceSize)
	for i := range cb.Ciphertexts {
		out = append(out, cb.Ciphertexts[i][:]...)
	}
	return append(out, cb.Nonce[:]...)
}
