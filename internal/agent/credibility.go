package agent

// Event is something that moves an agent's credibility.
type Event string

// Credibility events.
const (
	EventFruitGrown   Event = "fruit_grown"
	EventVerified     Event = "verified"
	EventBotVerified  Event = "bot_verified"
	EventFloodAnomaly Event = "flood_anomaly"
)

// DefaultCredibility is assigned at registration.
const DefaultCredibility = 0.5

var credibilityDeltas = map[Event]float64{
	EventFruitGrown:   0.05,
	EventVerified:     0.10,
	EventBotVerified:  0.05,
	EventFloodAnomaly: -0.10,
}

// CredibilityDelta returns the change applied for e. Unknown events are worth nothing.
func CredibilityDelta(e Event) float64 {
	return credibilityDeltas[e]
}
