package policy

import (
	"fmt"
	"strings"
)

// Message builds the overlay copy for a blocking result.
func Message(result Result, info DateInfo) OverlayMessage {
	msg := OverlayMessage{
		Title:  "Blocked",
		Reason: result.Reason.Label(),
		Range:  info.Range,
	}

	switch result.Reason {
	case ReasonQuota:
		msg.Body = "The app will close automatically"
		msg.Footer = "Try again tomorrow or adjust your time limit"
	case ReasonSchedule:
		msg.Title = "Outside allowed hours"
		msg.Body = "This app is not allowed right now"
		msg.Footer = "Try again during your allowed hours"
	case ReasonDate:
		msg.Body = "This app is not allowed in this date range"
		msg.Footer = dateFooter(info)
	case ReasonCombined:
		labels := make([]string, 0, 3)
		for _, r := range result.Reasons() {
			labels = append(labels, r.Label())
		}
		msg.Body = strings.Join(labels, "; ")
		msg.Footer = combinedFooter(info)
	default:
		msg.Title = ""
		msg.Body = ""
	}

	return msg
}

func dateFooter(info DateInfo) string {
	if !info.HasRemainingDays {
		return "Try again when the block ends"
	}
	switch info.RemainingDays {
	case 0:
		return "Ends today"
	case 1:
		return "Ends in 1 day"
	default:
		return fmt.Sprintf("Ends in %d days", info.RemainingDays)
	}
}

func combinedFooter(info DateInfo) string {
	if !info.HasRemainingDays {
		return "Try again later or adjust your restrictions"
	}
	switch info.RemainingDays {
	case 0:
		return "Date restriction ends today"
	case 1:
		return "Date restriction ends in 1 day"
	default:
		return fmt.Sprintf("Date restriction ends in %d days", info.RemainingDays)
	}
}
