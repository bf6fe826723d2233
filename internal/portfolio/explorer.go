package portfolio

import "strings"

// DefaultExplorerURL is the block explorer of the default network.
const DefaultExplorerURL = "https://testnet.bscscan.com"

// LinkKind selects an explorer page.
type LinkKind string

const (
	LinkTx      LinkKind = "tx"
	LinkAddress LinkKind = "address"
	LinkToken   LinkKind = "token"
)

// Explorer builds block explorer links.
type Explorer struct {
	BaseURL string
}

// NewExplorer returns an explorer rooted at baseURL, or the default explorer
// when baseURL is empty.
func NewExplorer(baseURL string) Explorer {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultExplorerURL
	}
	return Explorer{BaseURL: baseURL}
}

// Link returns the page for hash. Unknown kinds link to the explorer root.
func (e Explorer) Link(kind LinkKind, hash string) string {
	switch kind {
	case LinkTx, LinkAddress, LinkToken:
		return e.BaseURL + "/" + string(kind) + "/" + hash
	default:
		return e.BaseURL
	}
}
