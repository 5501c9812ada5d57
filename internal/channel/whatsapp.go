package channel

import "context"

type whatsappClient interface {
	Ready() bool
	Send(ctx context.Context, number, message string) error
}

// WhatsApp delivers through the WhatsApp bridge client.
type WhatsApp struct {
	client whatsappClient
}

// NewWhatsApp wraps a bridge client as a Channel.
func NewWhatsApp(client whatsappClient) *WhatsApp {
	return &WhatsApp{client: client}
}

func (w *WhatsApp) Name() string {
	return "WhatsApp bot"
}

func (w *WhatsApp) Ready() bool {
	return w.client != nil && w.client.Ready()
}

func (w *WhatsApp) Send(ctx context.Context, address, text string) error {
	if err := w.client.Send(ctx, address, text); err != nil {
		return &DeliveryError{Channel: w.Name(), Address: address, Err: err}
	}

	return nil
}
