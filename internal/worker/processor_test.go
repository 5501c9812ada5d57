package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/health-notifier/internal/channel"
	"github.com/aliskhannn/health-notifier/internal/message"
	chmocks "github.com/aliskhannn/health-notifier/internal/mocks/channel"
	mocks "github.com/aliskhannn/health-notifier/internal/mocks/worker"
	"github.com/aliskhannn/health-notifier/internal/model"
)

var testNow = time.Date(2025, 9, 15, 10, 0, 0, 0, time.UTC)

func newTestProcessor(t *testing.T, opts Options) (*Processor, *mocks.MocknotificationStore, *chmocks.MockChannel) {
	ctrl := gomock.NewController(t)

	store := mocks.NewMocknotificationStore(ctrl)
	wa := chmocks.NewMockChannel(ctrl)
	wa.EXPECT().Name().Return("WhatsApp bot").AnyTimes()

	p := NewProcessor(store, map[model.DeliveryMethod]channel.Channel{model.DeliveryWhatsApp: wa}, opts)
	p.now = func() time.Time { return testNow }

	return p, store, wa
}

func pending(mobile string, method model.DeliveryMethod) model.Notification {
	return model.Notification{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Type:           model.TypeHealthTip,
		Title:          "Stay hydrated",
		Message:        "Drink eight glasses of water today.",
		DeliveryMethod: method,
		Status:         model.StatusPending,
		Recipient:      &model.Recipient{Name: "Asha", MobileNumber: mobile, LanguagePreference: "en"},
	}
}

func sentUpdate(addr string) model.StatusUpdate {
	sentAt := testNow
	return model.StatusUpdate{
		Status:             model.StatusSent,
		SentAt:             &sentAt,
		DeliveryMethodUsed: model.DeliveryWhatsApp,
		PhoneNumber:        addr,
	}
}

func TestProcessPending_Sent(t *testing.T) {
	p, store, wa := newTestProcessor(t, Options{})

	n := pending("9876543210", model.DeliveryWhatsApp)
	n.Recipient.LanguagePreference = "hi"

	store.EXPECT().FetchPending(gomock.Any(), DefaultBatchSize).Return([]model.Notification{n}, nil)
	wa.EXPECT().Ready().Return(true)
	wa.EXPECT().Send(gomock.Any(), "919876543210", message.Format(n.Title, n.Message, message.Hindi)).Return(nil)
	store.EXPECT().MarkStatus(gomock.Any(), n.ID, sentUpdate("919876543210")).Return(nil)

	require.NoError(t, p.ProcessPending(context.Background()))
	assert.False(t, p.processing.Load())
}

func TestProcessPending_NoPending(t *testing.T) {
	p, store, _ := newTestProcessor(t, Options{})

	store.EXPECT().FetchPending(gomock.Any(), DefaultBatchSize).Return(nil, nil)

	assert.NoError(t, p.ProcessPending(context.Background()))
}

func TestProcessPending_ValidationFailures(t *testing.T) {
	noRecipient := pending("", model.DeliveryWhatsApp)
	noRecipient.Recipient = nil

	tests := []struct {
		name         string
		notification model.Notification
		diagnostic   string
	}{
		{"no recipient", noRecipient, DiagMobileNotFound},
		{"empty mobile", pending("", model.DeliveryWhatsApp), DiagMobileNotFound},
		{"invalid phone", pending("123", model.DeliveryWhatsApp), DiagInvalidPhone},
		{"wrong prefix", pending("449876543210", model.DeliveryWhatsApp), DiagInvalidPhone},
		{"sms", pending("9876543210", model.DeliverySMS), DiagSMSNotImplemented},
		{"email", pending("9876543210", model.DeliveryEmail), DiagUnknownMethod},
		{"unknown method", pending("9876543210", model.DeliveryMethod("pigeon")), DiagUnknownMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store, _ := newTestProcessor(t, Options{})

			store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return([]model.Notification{tt.notification}, nil)
			store.EXPECT().MarkStatus(gomock.Any(), tt.notification.ID, model.StatusUpdate{
				Status:       model.StatusFailed,
				ErrorMessage: tt.diagnostic,
			}).Return(nil)

			assert.NoError(t, p.ProcessPending(context.Background()))
		})
	}
}

func TestProcessPending_ScenarioA(t *testing.T) {
	p, store, wa := newTestProcessor(t, Options{})

	n := pending("9876543210", model.DeliveryWhatsApp)

	store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return([]model.Notification{n}, nil)
	wa.EXPECT().Ready().Return(true)
	wa.EXPECT().Send(gomock.Any(), "919876543210", gomock.Any()).Return(nil)
	store.EXPECT().MarkStatus(gomock.Any(), n.ID, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ uuid.UUID, upd model.StatusUpdate) error {
			assert.Equal(t, model.StatusSent, upd.Status)
			assert.Equal(t, "919876543210", upd.PhoneNumber)
			assert.Equal(t, model.DeliveryWhatsApp, upd.DeliveryMethodUsed)
			require.NotNil(t, upd.SentAt)
			assert.Empty(t, upd.ErrorMessage)
			return nil
		},
	)

	require.NoError(t, p.ProcessPending(context.Background()))
}

func TestProcessPending_SMSIgnoresChannelState(t *testing.T) {
	for _, ready := range []bool{true, false} {
		t.Run(fmt.Sprintf("ready=%v", ready), func(t *testing.T) {
			p, store, wa := newTestProcessor(t, Options{})
			wa.EXPECT().Ready().Return(ready).AnyTimes()

			n := pending("9876543210", model.DeliverySMS)

			store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return([]model.Notification{n}, nil)
			store.EXPECT().MarkStatus(gomock.Any(), n.ID, gomock.Any()).DoAndReturn(
				func(_ context.Context, _ uuid.UUID, upd model.StatusUpdate) error {
					assert.Equal(t, model.StatusFailed, upd.Status)
					assert.Contains(t, upd.ErrorMessage, "not implemented")
					return nil
				},
			)

			require.NoError(t, p.ProcessPending(context.Background()))
		})
	}
}

func TestProcessPending_ChannelNotReady(t *testing.T) {
	p, store, wa := newTestProcessor(t, Options{})

	n := pending("9876543210", model.DeliveryWhatsApp)

	store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return([]model.Notification{n}, nil)
	wa.EXPECT().Ready().Return(false)
	store.EXPECT().MarkStatus(gomock.Any(), n.ID, model.StatusUpdate{
		Status:       model.StatusFailed,
		ErrorMessage: "WhatsApp bot not ready",
	}).Return(nil)

	require.NoError(t, p.ProcessPending(context.Background()))
}

func TestProcessPending_DeferWhenNotReady(t *testing.T) {
	p, store, wa := newTestProcessor(t, Options{DeferWhenNotReady: true})

	n := pending("9876543210", model.DeliveryWhatsApp)

	store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return([]model.Notification{n}, nil)
	wa.EXPECT().Ready().Return(false)

	require.NoError(t, p.ProcessPending(context.Background()))
}

func TestProcessPending_NoWhatsAppChannel(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMocknotificationStore(ctrl)
	p := NewProcessor(store, nil, Options{})

	n := pending("9876543210", model.DeliveryWhatsApp)

	store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return([]model.Notification{n}, nil)
	store.EXPECT().MarkStatus(gomock.Any(), n.ID, model.StatusUpdate{
		Status:       model.StatusFailed,
		ErrorMessage: DiagWhatsAppNotInit,
	}).Return(nil)

	require.NoError(t, p.ProcessPending(context.Background()))
	assert.False(t, p.Status().ChannelReady)
}

func TestProcessPending_TransportErrorVerbatim(t *testing.T) {
	p, store, wa := newTestProcessor(t, Options{})

	n := pending("09876543210", model.DeliveryWhatsApp)
	transportErr := &channel.DeliveryError{
		Channel: "WhatsApp bot",
		Address: "919876543210",
		Err:     errors.New("Failed to send message"),
	}

	store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return([]model.Notification{n}, nil)
	wa.EXPECT().Ready().Return(true)
	wa.EXPECT().Send(gomock.Any(), "919876543210", gomock.Any()).Return(transportErr)
	store.EXPECT().MarkStatus(gomock.Any(), n.ID, model.StatusUpdate{
		Status:       model.StatusFailed,
		ErrorMessage: "Failed to send message",
	}).Return(nil)

	require.NoError(t, p.ProcessPending(context.Background()))
}

func TestProcessPending_PartialFailure(t *testing.T) {
	p, store, wa := newTestProcessor(t, Options{})

	first := pending("9876543210", model.DeliveryWhatsApp)
	second := pending("9876543211", model.DeliveryWhatsApp)
	third := pending("9876543212", model.DeliveryWhatsApp)

	store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).
		Return([]model.Notification{first, second, third}, nil)
	wa.EXPECT().Ready().Return(true).Times(3)

	gomock.InOrder(
		wa.EXPECT().Send(gomock.Any(), "919876543210", gomock.Any()).Return(nil),
		store.EXPECT().MarkStatus(gomock.Any(), first.ID, sentUpdate("919876543210")).Return(nil),
		wa.EXPECT().Send(gomock.Any(), "919876543211", gomock.Any()).Return(errors.New("number not on WhatsApp")),
		store.EXPECT().MarkStatus(gomock.Any(), second.ID, model.StatusUpdate{
			Status:       model.StatusFailed,
			ErrorMessage: "number not on WhatsApp",
		}).Return(nil),
		wa.EXPECT().Send(gomock.Any(), "919876543212", gomock.Any()).Return(nil),
		store.EXPECT().MarkStatus(gomock.Any(), third.ID, sentUpdate("919876543212")).Return(nil),
	)

	require.NoError(t, p.ProcessPending(context.Background()))
}

func TestProcessPending_StatusWriteFailureContinues(t *testing.T) {
	p, store, wa := newTestProcessor(t, Options{})

	first := pending("9876543210", model.DeliveryWhatsApp)
	second := pending("9876543211", model.DeliveryWhatsApp)

	store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return([]model.Notification{first, second}, nil)
	wa.EXPECT().Ready().Return(true).Times(2)
	wa.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)

	gomock.InOrder(
		store.EXPECT().MarkStatus(gomock.Any(), first.ID, gomock.Any()).Return(errors.New("db down")),
		store.EXPECT().MarkStatus(gomock.Any(), second.ID, gomock.Any()).Return(nil),
	)

	require.NoError(t, p.ProcessPending(context.Background()))
}

func TestProcessPending_BatchLimit(t *testing.T) {
	p, store, wa := newTestProcessor(t, Options{})

	// The store honours the limit, so of 120 eligible rows it returns 50.
	batch := make([]model.Notification, DefaultBatchSize)
	for i := range batch {
		batch[i] = pending(fmt.Sprintf("98765%05d", i), model.DeliveryWhatsApp)
	}

	store.EXPECT().FetchPending(gomock.Any(), 50).Return(batch, nil)
	wa.EXPECT().Ready().Return(true).Times(50)
	wa.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(50)
	store.EXPECT().MarkStatus(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(50)

	require.NoError(t, p.ProcessPending(context.Background()))
}

func TestProcessPending_CustomBatchSize(t *testing.T) {
	p, store, _ := newTestProcessor(t, Options{BatchSize: 10})

	store.EXPECT().FetchPending(gomock.Any(), 10).Return(nil, nil)

	require.NoError(t, p.ProcessPending(context.Background()))
}

func TestProcessPending_FetchErrorClearsFlag(t *testing.T) {
	p, store, _ := newTestProcessor(t, Options{})

	gomock.InOrder(
		store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused")),
		store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return(nil, nil),
	)

	err := p.ProcessPending(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, p.processing.Load())

	assert.NoError(t, p.ProcessPending(context.Background()))
}

func TestProcessPending_PanicRecordedAsFailure(t *testing.T) {
	p, store, wa := newTestProcessor(t, Options{})

	first := pending("9876543210", model.DeliveryWhatsApp)
	second := pending("9876543211", model.DeliveryWhatsApp)

	store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return([]model.Notification{first, second}, nil)
	wa.EXPECT().Ready().Return(true).Times(2)

	gomock.InOrder(
		wa.EXPECT().Send(gomock.Any(), "919876543210", gomock.Any()).DoAndReturn(
			func(context.Context, string, string) error { panic("boom") },
		),
		store.EXPECT().MarkStatus(gomock.Any(), first.ID, model.StatusUpdate{
			Status:       model.StatusFailed,
			ErrorMessage: "boom",
		}).Return(nil),
		wa.EXPECT().Send(gomock.Any(), "919876543211", gomock.Any()).Return(nil),
		store.EXPECT().MarkStatus(gomock.Any(), second.ID, sentUpdate("919876543211")).Return(nil),
	)

	require.NoError(t, p.ProcessPending(context.Background()))
	assert.False(t, p.processing.Load())
}

func TestProcessPending_SendTimeout(t *testing.T) {
	p, store, wa := newTestProcessor(t, Options{SendTimeout: 20 * time.Millisecond})

	n := pending("9876543210", model.DeliveryWhatsApp)

	store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return([]model.Notification{n}, nil)
	wa.EXPECT().Ready().Return(true)
	wa.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		},
	)
	store.EXPECT().MarkStatus(gomock.Any(), n.ID, model.StatusUpdate{
		Status:       model.StatusFailed,
		ErrorMessage: context.DeadlineExceeded.Error(),
	}).Return(nil)

	require.NoError(t, p.ProcessPending(context.Background()))
}

func TestProcessPending_MutualExclusion(t *testing.T) {
	p, store, wa := newTestProcessor(t, Options{})

	n := pending("9876543210", model.DeliveryWhatsApp)
	started := make(chan struct{})
	release := make(chan struct{})

	gomock.InOrder(
		store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return([]model.Notification{n}, nil),
		store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return(nil, nil),
	)
	wa.EXPECT().Ready().Return(true).AnyTimes()
	wa.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, string, string) error {
			close(started)
			<-release
			return nil
		},
	)
	store.EXPECT().MarkStatus(gomock.Any(), n.ID, gomock.Any()).Return(nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, p.ProcessPending(context.Background()))
	}()

	<-started
	assert.True(t, p.Status().IsProcessing)
	assert.ErrorIs(t, p.ProcessPending(context.Background()), ErrAlreadyProcessing)

	close(release)
	wg.Wait()

	assert.False(t, p.Status().IsProcessing)
	assert.NoError(t, p.ProcessPending(context.Background()))
}

func TestTrigger_DropsTickWhileProcessing(t *testing.T) {
	p, _, _ := newTestProcessor(t, Options{})

	p.processing.Store(true)
	p.trigger(context.Background())
	p.wg.Wait()
}

func TestSchedule_StopWinsOverPendingTick(t *testing.T) {
	p, _, _ := newTestProcessor(t, Options{})

	stop := make(chan struct{})
	close(stop)

	for i := 0; i < 100; i++ {
		warmUp := make(chan time.Time, 1)
		tick := make(chan time.Time, 1)
		warmUp <- testNow
		tick <- testNow

		p.schedule(context.Background(), stop, warmUp, tick)
	}

	p.wg.Wait()
}

func TestStart_Idempotent(t *testing.T) {
	p, store, wa := newTestProcessor(t, Options{WarmUp: 10 * time.Millisecond, Interval: time.Hour})
	wa.EXPECT().Ready().Return(true).AnyTimes()

	fetched := make(chan struct{})
	store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, int) ([]model.Notification, error) {
			close(fetched)
			return nil, nil
		},
	).Times(1)

	assert.True(t, p.Start(context.Background()))
	assert.False(t, p.Start(context.Background()))
	assert.True(t, p.Status().IsRunning)

	select {
	case <-fetched:
	case <-time.After(time.Second):
		t.Fatal("warm-up pass did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	assert.False(t, p.Status().IsRunning)
}

func TestStart_TickerPasses(t *testing.T) {
	p, store, _ := newTestProcessor(t, Options{WarmUp: time.Hour, Interval: 10 * time.Millisecond})

	var (
		mu    sync.Mutex
		calls int
	)
	store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, int) ([]model.Notification, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil, nil
		},
	).MinTimes(2)

	p.Start(context.Background())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestStop_DoesNotInterruptPass(t *testing.T) {
	p, store, wa := newTestProcessor(t, Options{WarmUp: time.Millisecond, Interval: time.Hour})

	n := pending("9876543210", model.DeliveryWhatsApp)
	started := make(chan struct{})
	release := make(chan struct{})

	store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return([]model.Notification{n}, nil)
	wa.EXPECT().Ready().Return(true).AnyTimes()
	wa.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _, _ string) error {
			close(started)
			<-release
			return ctx.Err()
		},
	)
	store.EXPECT().MarkStatus(gomock.Any(), n.ID, sentUpdate("919876543210")).Return(nil)

	ctx, cancelStart := context.WithCancel(context.Background())
	p.Start(ctx)

	<-started
	cancelStart()
	p.Stop()

	st := p.Status()
	assert.False(t, st.IsRunning)
	assert.True(t, st.IsProcessing)

	close(release)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(shutdownCtx))
	assert.False(t, p.Status().IsProcessing)
}

func TestShutdown_Timeout(t *testing.T) {
	p, store, wa := newTestProcessor(t, Options{WarmUp: time.Millisecond, Interval: time.Hour})

	n := pending("9876543210", model.DeliveryWhatsApp)
	started := make(chan struct{})
	release := make(chan struct{})

	store.EXPECT().FetchPending(gomock.Any(), gomock.Any()).Return([]model.Notification{n}, nil)
	wa.EXPECT().Ready().Return(true).AnyTimes()
	wa.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, string, string) error {
			close(started)
			<-release
			return nil
		},
	)
	store.EXPECT().MarkStatus(gomock.Any(), n.ID, gomock.Any()).Return(nil)

	p.Start(context.Background())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestStatus_JSON(t *testing.T) {
	p, _, wa := newTestProcessor(t, Options{})
	wa.EXPECT().Ready().Return(true)

	raw, err := json.Marshal(p.Status())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, false, got["isRunning"])
	assert.Equal(t, false, got["isProcessing"])
	assert.Equal(t, true, got["whatsappBotReady"])
	assert.Contains(t, got, "timestamp")
}
