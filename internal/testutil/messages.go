package testutil

import (
	"time"

	"github.com/Veraticus/tripwire/internal/model"
)

// ExfiltrationMessage returns an email that matches both keywords and the
// file_transfer pattern of the Data Exfiltration fixture.
func ExfiltrationMessage(id, employeeID string, sentAt time.Time) model.Communication {
	return model.Communication{
		ID:         id,
		EmployeeID: employeeID,
		Sender:     employeeID + "@example.com",
		Recipients: []string{"me@gmail.com"},
		Subject:    "Roadmap",
		Body:       "Please forward to my personal gmail the confidential roadmap.",
		Channel:    model.ChannelEmail,
		SentAt:     sentAt,
	}
}

// BenignMessage returns an internal chat message no fixture matches.
func BenignMessage(id, employeeID string, sentAt time.Time) model.Communication {
	return model.Communication{
		ID:         id,
		EmployeeID: employeeID,
		Sender:     employeeID + "@example.com",
		Recipients: []string{"team@example.com"},
		Subject:    "Lunch",
		Body:       "Tacos at noon?",
		Channel:    model.ChannelChat,
		SentAt:     sentAt,
	}
}
