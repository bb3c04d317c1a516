package models

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
	ChannelChat  Channel = "chat"
)

// Contact is the engine's read model of an externally owned recipient.
// A contact may carry any subset of channel addresses, including none.
type Contact struct {
	ID         string
	Name       string
	Tier       int // priority tier; lower tiers are notified first
	Phone      string
	Email      string
	ChatHandle string
}

// AddressFor returns the contact's address for a channel, or false when the
// contact is unreachable on it.
func (c *Contact) AddressFor(ch Channel) (string, bool) {
	switch ch {
	case ChannelEmail:
		return c.Email, c.Email != ""
	case ChannelSMS, ChannelVoice:
		return c.Phone, c.Phone != ""
	case ChannelChat:
		return c.ChatHandle, c.ChatHandle != ""
	}
	return "", false
}

type AssetKind string

const (
	AssetKindVessel  AssetKind = "VESSEL"
	AssetKindPort    AssetKind = "PORT"
	AssetKindStation AssetKind = "STATION"
)

// Asset is a recipient-bearing thing with an (optionally known) position.
// Assets without a position cannot be resolved geospatially and are reported
// as unresolved rather than assumed safe.
type Asset struct {
	ID        string
	Kind      AssetKind
	Name      string
	ContactID string
	Latitude  *float64
	Longitude *float64
}

// Position returns the asset's coordinates, or false when unknown.
func (a *Asset) Position() (Coordinates, bool) {
	if a.Latitude == nil || a.Longitude == nil {
		return Coordinates{}, false
	}
	return Coordinates{Latitude: *a.Latitude, Longitude: *a.Longitude}, true
}
