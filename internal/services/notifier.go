package services

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ChatNotifier sends the WhatsApp confirmation that carries the customer's
// reference, so later inbound messages can be correlated even when the
// customer types the reply themselves. Optional: the server runs fine
// without Twilio credentials, it just stays silent.
type ChatNotifier struct {
	client *twilio.RestClient
	from   string // Format: "whatsapp:+14155238886"
}

// NewChatNotifier creates a notifier from environment credentials.
func NewChatNotifier() (*ChatNotifier, error) {
	accountSid := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	from := os.Getenv("TWILIO_WHATSAPP_FROM")

	if accountSid == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("missing Twilio credentials in environment variables")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})

	return &ChatNotifier{
		client: client,
		from:   from,
	}, nil
}

// SendReferenceConfirmation messages the customer their cliente# reference.
func (n *ChatNotifier) SendReferenceConfirmation(to, clientRef string) error {
	if !strings.HasPrefix(to, "+") {
		to = "+" + to
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(n.from)
	params.SetTo(fmt.Sprintf("whatsapp:%s", to))
	params.SetBody(fmt.Sprintf("Recebemos seu contato! Seu código de atendimento é cliente#%s.", clientRef))

	resp, err := n.client.Api.CreateMessage(params)
	if err != nil {
		log.Printf("❌ Failed to send WhatsApp confirmation: %v", err)
		return err
	}

	log.Printf("✅ WhatsApp confirmation sent to %s (SID: %s)", to, *resp.Sid)
	return nil
}
