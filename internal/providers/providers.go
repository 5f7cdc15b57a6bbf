// Package providers holds the narrow interfaces to external collaborators
// (messaging transport, speech synthesis, clinic integration) and their
// concrete implementations.
package providers

import (
	"context"
	"time"
)

// Messenger is the outbound notification transport.
type Messenger interface {
	// SendText delivers a text message, optionally with quick-reply
	// buttons and an attached media URL. Returns the transport message id.
	SendText(ctx context.Context, recipient, text string, quickReplies []string, mediaURL string) (string, error)
	// SendVoiceNote delivers a pre-synthesized audio message.
	SendVoiceNote(ctx context.Context, recipient, audioURL string) (string, error)
	// PlaceVoiceCall places an interactive call driven by the prompt URL.
	PlaceVoiceCall(ctx context.Context, recipient, promptURL string) (string, error)
	// DownloadMedia fetches media bytes from a transport URL.
	DownloadMedia(ctx context.Context, url string) ([]byte, error)
}

// Synthesizer converts text to a hosted audio URL. The collaborator is
// assumed to cache, so repeated calls with the same input are cheap.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) (string, error)
}

// ClinicAlert is the payload sent to an affiliated clinic at level 5.
type ClinicAlert struct {
	PatientID    string    `json:"patient_id"`
	PatientName  string    `json:"patient_name"`
	MedicationID string    `json:"medication_id"`
	Medication   string    `json:"medication"`
	OccurrenceID string    `json:"occurrence_id"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Critical     bool      `json:"critical"`
}

// ClinicNotifier signals an affiliated clinic about an unresolved escalation.
type ClinicNotifier interface {
	NotifyClinic(ctx context.Context, clinicID string, alert ClinicAlert) error
}

// Transport combines the Telegram messenger (text, voice notes, media)
// with the Twilio caller into one Messenger.
type Transport struct {
	Telegram *TelegramSender
	Caller   *TwilioCaller
}

func (t *Transport) SendText(ctx context.Context, recipient, text string, quickReplies []string, mediaURL string) (string, error) {
	return t.Telegram.SendText(ctx, recipient, text, quickReplies, mediaURL)
}

func (t *Transport) SendVoiceNote(ctx context.Context, recipient, audioURL string) (string, error) {
	return t.Telegram.SendVoiceNote(ctx, recipient, audioURL)
}

func (t *Transport) PlaceVoiceCall(ctx context.Context, recipient, promptURL string) (string, error) {
	return t.Caller.PlaceVoiceCall(ctx, recipient, promptURL)
}

func (t *Transport) DownloadMedia(ctx context.Context, url string) ([]byte, error) {
	return t.Telegram.DownloadMedia(ctx, url)
}
