package model

// Track is a licensed source track owned by one artist.
type Track struct {
	ID       string `json:"id"`
	ArtistID string `json:"artist_id"`
	Title    string `json:"title"`
}

// Artist holds the payout destination for an artist. WalletAddress is nil
// until the artist registers one.
type Artist struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	WalletAddress *string `json:"wallet_address,omitempty"`
}
