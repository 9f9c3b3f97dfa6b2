package models

// BlockchainInfo is the subset of getblockchaininfo the workflow reads.
type BlockchainInfo struct {
	Chain                string  `json:"chain"`
	Blocks               int64   `json:"blocks"`
	Headers              int64   `json:"headers"`
	VerificationProgress float64 `json:"verificationprogress"`
}

// Synced reports whether the node considers itself fully verified.
func (b BlockchainInfo) Synced() bool {
	return b.VerificationProgress >= 1
}

// UnspentOutput is one entry of listunspent.
type UnspentOutput struct {
	TxID          string  `json:"txid"`
	Vout          int     `json:"vout"`
	Address       string  `json:"address"`
	Amount        float64 `json:"amount"`
	Confirmations int64   `json:"confirmations"`
}

// MasternodeOutput is one entry of "masternode outputs".
type MasternodeOutput struct {
	TxHash    string `json:"txhash"`
	OutputIdx int    `json:"outputidx"`
}

// CollateralTx is the collateral transaction of one activation run.
type CollateralTx struct {
	TxID        string
	Address     string
	OutputIndex int
}

// RegistryEntry is one line of the local masternode registry file.
type RegistryEntry struct {
	Label         string
	Address       string // host:port
	MasternodeKey string
	TxHash        string
	OutputIndex   int
}
