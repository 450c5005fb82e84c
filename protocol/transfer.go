package protocol

// Transfer is one leg of a settlement: Amount token units from From to To.
type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}
