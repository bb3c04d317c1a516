package dispatch

import (
	"fmt"

	"github.com/tidewatch/go-hazard-alerts/internal/channels"
	"github.com/tidewatch/go-hazard-alerts/internal/models"
)

// Notification is one unit of fan-out work: deliver word of an alert to
// one contact over one channel for one escalation step.
type Notification struct {
	Alert     models.Alert
	Hazard    models.HazardEvent
	Contact   models.Contact
	Channel   models.Channel
	StepIndex int
}

// Key returns the notification's idempotency key.
func (n Notification) Key() string {
	return models.IdempotencyKey(n.Alert.ID, n.Contact.ID, n.Channel, n.StepIndex)
}

// Render produces the channel-specific message. Each channel gets its own
// shape: voice scripts are short and spoken, SMS is compact, email carries
// the full picture.
func Render(n Notification) (channels.Message, error) {
	h := n.Hazard
	headline := fmt.Sprintf("%s alert: M%.1f %s", severityWord(n.Alert.Severity), h.Magnitude, h.Title)

	switch n.Channel {
	case models.ChannelEmail:
		body := fmt.Sprintf(
			"%s\n\nMagnitude: %.1f\nDepth: %.0f km\nEpicenter: %.4f, %.4f\nOccurred: %s\nTsunami flag: %v\n\nAcknowledge this alert to stop further escalation.",
			headline, h.Magnitude, h.DepthKM, h.Latitude, h.Longitude,
			h.OccurredAt.Format("2006-01-02 15:04:05 MST"), h.TsunamiFlag)
		return channels.Message{Channel: n.Channel, Subject: headline, Body: body}, nil

	case models.ChannelSMS:
		body := fmt.Sprintf("%s. Epicenter %.2f,%.2f depth %.0fkm. Reply ACK %s to acknowledge.",
			headline, h.Latitude, h.Longitude, h.DepthKM, n.Alert.ID)
		return channels.Message{Channel: n.Channel, Body: body}, nil

	case models.ChannelVoice:
		body := fmt.Sprintf(
			"This is an automated hazard warning for %s. A magnitude %.1f event occurred. Severity %d of 5. Press any key to acknowledge.",
			n.Contact.Name, h.Magnitude, n.Alert.Severity)
		return channels.Message{Channel: n.Channel, Body: body}, nil

	case models.ChannelChat:
		body := fmt.Sprintf(":rotating_light: *%s*\nSeverity %d/5 | depth %.0f km | tsunami: %v\nAlert `%s` — acknowledge to halt escalation.",
			headline, n.Alert.Severity, h.DepthKM, h.TsunamiFlag, n.Alert.ID)
		return channels.Message{Channel: n.Channel, Body: body}, nil
	}

	return channels.Message{}, fmt.Errorf("no renderer for channel %q", n.Channel)
}

func severityWord(severity int) string {
	switch severity {
	case 5:
		return "CRITICAL"
	case 4:
		return "SEVERE"
	case 3:
		return "ELEVATED"
	default:
		return "ROUTINE"
	}
}
