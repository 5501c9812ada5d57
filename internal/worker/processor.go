package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/health-notifier/internal/channel"
	"github.com/aliskhannn/health-notifier/internal/message"
	"github.com/aliskhannn/health-notifier/internal/model"
	"github.com/aliskhannn/health-notifier/internal/phone"
)

// Diagnostics recorded on failed notifications.
const (
	DiagMobileNotFound    = "User mobile number not found"
	DiagInvalidPhone      = "Invalid phone number format"
	DiagWhatsAppNotInit   = "WhatsApp bot not initialized"
	DiagSMSNotImplemented = "SMS delivery not implemented"
	DiagUnknownMethod     = "Unknown delivery method"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultWarmUp    = 5 * time.Second
	DefaultBatchSize = 50
)

// ErrAlreadyProcessing is returned when a pass is requested while another is in flight.
var ErrAlreadyProcessing = errors.New("notification processing already in progress")

//go:generate mockgen -source=processor.go -destination=../mocks/worker/mock.go -package=mocks
type notificationStore interface {
	FetchPending(ctx context.Context, limit int) ([]model.Notification, error)
	MarkStatus(ctx context.Context, id uuid.UUID, upd model.StatusUpdate) error
}

// Options configures a Processor. Zero values fall back to the defaults.
type Options struct {
	Interval          time.Duration // time between scheduled passes
	WarmUp            time.Duration // delay before the first pass after Start
	BatchSize         int           // max notifications per pass
	SendTimeout       time.Duration // per-send deadline, 0 means none
	DeferWhenNotReady bool          // leave records pending while their channel is not ready
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.WarmUp <= 0 {
		o.WarmUp = DefaultWarmUp
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// Status is a snapshot of the processor state.
type Status struct {
	IsRunning    bool      `json:"isRunning"`
	IsProcessing bool      `json:"isProcessing"`
	ChannelReady bool      `json:"whatsappBotReady"`
	Timestamp    time.Time `json:"timestamp"`
}

// Processor periodically delivers due pending notifications.
//
// At most one pass runs at a time, whether it was started by the timer or
// by a manual ProcessPending call. Within a pass records are handled
// sequentially in the order the store returns them.
type Processor struct {
	store    notificationStore
	channels map[model.DeliveryMethod]channel.Channel
	opts     Options
	now      func() time.Time

	mu   sync.Mutex
	stop chan struct{} // non-nil while scheduled

	processing atomic.Bool
	wg         sync.WaitGroup
}

// NewProcessor creates a Processor that reads from store and delivers through
// the channel registered for each notification's delivery method.
func NewProcessor(store notificationStore, channels map[model.DeliveryMethod]channel.Channel, opts Options) *Processor {
	return &Processor{
		store:    store,
		channels: channels,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// Start schedules a pass after the warm-up delay and then every interval.
// It returns false if the processor is already running.
//
// Passes run detached from ctx cancellation; ctx only carries values.
// Use Stop or Shutdown to end the schedule.
func (p *Processor) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop != nil {
		zlog.Logger.Info().Msg("notification processor is already running")
		return false
	}

	stop := make(chan struct{})
	p.stop = stop

	p.wg.Add(1)
	go p.loop(context.WithoutCancel(ctx), stop)

	zlog.Logger.Info().
		Dur("interval", p.opts.Interval).
		Dur("warm_up", p.opts.WarmUp).
		Msg("notification processor started")

	return true
}

// Stop cancels the schedule. A pass already in flight runs to completion.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop == nil {
		return
	}

	close(p.stop)
	p.stop = nil

	zlog.Logger.Info().Msg("notification processor stopped")
}

// Shutdown stops the processor and waits for an in-flight pass to finish
// or for ctx to be done.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.Stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for notification processor: %w", ctx.Err())
	}
}

// Status reports whether the processor is scheduled, whether a pass is in
// flight and whether the WhatsApp channel can send.
func (p *Processor) Status() Status {
	p.mu.Lock()
	running := p.stop != nil
	p.mu.Unlock()

	var ready bool
	if ch, ok := p.channels[model.DeliveryWhatsApp]; ok && ch != nil {
		ready = ch.Ready()
	}

	return Status{
		IsRunning:    running,
		IsProcessing: p.processing.Load(),
		ChannelReady: ready,
		Timestamp:    p.now(),
	}
}

func (p *Processor) loop(ctx context.Context, stop <-chan struct{}) {
	defer p.wg.Done()

	warmUp := time.NewTimer(p.opts.WarmUp)
	defer warmUp.Stop()

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.schedule(ctx, stop, warmUp.C, ticker.C)
}

// schedule triggers a pass on every warm-up or tick until stop is closed.
// A tick that is already pending when stop closes does not start a pass.
func (p *Processor) schedule(ctx context.Context, stop <-chan struct{}, warmUp, tick <-chan time.Time) {
	for {
		select {
		case <-stop:
			return
		case <-warmUp:
		case <-tick:
		}

		select {
		case <-stop:
			return
		default:
			p.trigger(ctx)
		}
	}
}

// trigger starts a pass in the background unless one is already running,
// so a slow pass never queues up ticks.
func (p *Processor) trigger(ctx context.Context) {
	if p.processing.Load() {
		zlog.Logger.Info().Msg("notification processing already in progress, skipping tick")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := p.ProcessPending(ctx); err != nil && !errors.Is(err, ErrAlreadyProcessing) {
			zlog.Logger.Error().Err(err).Msg("scheduled notification pass failed")
		}
	}()
}

// ProcessPending runs one pass over the due pending notifications.
//
// It returns ErrAlreadyProcessing without touching the store if another pass
// is in flight. Per-record failures are recorded on the records themselves
// and do not fail the pass.
func (p *Processor) ProcessPending(ctx context.Context) error {
	if !p.processing.CompareAndSwap(false, true) {
		zlog.Logger.Info().Msg("notification processing already in progress, skipping")
		return ErrAlreadyProcessing
	}
	defer p.processing.Store(false)

	notifications, err := p.store.FetchPending(ctx, p.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to process pending notifications: %w", err)
	}

	if len(notifications) == 0 {
		zlog.Logger.Info().Msg("no pending notifications to process")
		return nil
	}

	zlog.Logger.Info().Int("count", len(notifications)).Msg("processing pending notifications")

	for _, n := range notifications {
		p.process(ctx, n)
	}

	return nil
}

func (p *Processor) process(ctx context.Context, n model.Notification) {
	zlog.Logger.Info().
		Str("id", n.ID.String()).
		Str("user_id", n.UserID.String()).
		Msg("processing notification")

	upd, write := p.deliver(ctx, n)
	if !write {
		return
	}

	if err := p.store.MarkStatus(ctx, n.ID, upd); err != nil {
		zlog.Logger.Error().Err(err).Str("id", n.ID.String()).Str("status", string(upd.Status)).
			Msg("failed to update notification status")
		return
	}

	if upd.Status == model.StatusSent {
		zlog.Logger.Info().Str("id", n.ID.String()).Str("method", string(n.DeliveryMethod)).
			Msg("notification sent")
	} else {
		zlog.Logger.Warn().Str("id", n.ID.String()).Str("error", upd.ErrorMessage).
			Msg("notification failed")
	}
}

// deliver attempts delivery of n and returns the status write to make.
// write is false when the record must stay pending.
func (p *Processor) deliver(ctx context.Context, n model.Notification) (upd model.StatusUpdate, write bool) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Logger.Error().Str("id", n.ID.String()).Interface("panic", r).Msg("panic while delivering notification")
			upd, write = failed(fmt.Sprint(r)), true
		}
	}()

	if n.Recipient == nil || n.Recipient.MobileNumber == "" {
		return failed(DiagMobileNotFound), true
	}

	addr, ok := phone.Normalize(n.Recipient.MobileNumber)
	if !ok {
		return failed(DiagInvalidPhone), true
	}

	ch, ok := p.channels[n.DeliveryMethod]
	if !ok || ch == nil {
		return failed(missingChannel(n.DeliveryMethod)), true
	}

	if !ch.Ready() {
		err := &channel.NotReadyError{Channel: ch.Name()}
		if p.opts.DeferWhenNotReady {
			zlog.Logger.Info().Str("id", n.ID.String()).Err(err).Msg("channel not ready, leaving notification pending")
			return upd, false
		}
		return failed(err.Error()), true
	}

	if err := p.send(ctx, ch, addr, message.FormatNotification(n)); err != nil {
		return failed(err.Error()), true
	}

	sentAt := p.now().UTC()

	return model.StatusUpdate{
		Status:             model.StatusSent,
		SentAt:             &sentAt,
		DeliveryMethodUsed: n.DeliveryMethod,
		PhoneNumber:        addr,
	}, true
}

func (p *Processor) send(ctx context.Context, ch channel.Channel, addr, text string) error {
	if p.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.SendTimeout)
		defer cancel()
	}

	return ch.Send(ctx, addr, text)
}

func missingChannel(method model.DeliveryMethod) string {
	switch method {
	case model.DeliveryWhatsApp:
		return DiagWhatsAppNotInit
	case model.DeliverySMS:
		return DiagSMSNotImplemented
	default:
		return DiagUnknownMethod
	}
}

func failed(diagnostic string) model.StatusUpdate {
	return model.StatusUpdate{Status: model.StatusFailed, ErrorMessage: diagnostic}
}
