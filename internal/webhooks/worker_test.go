package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cartloom/capture-service/internal/idempotency"
	"github.com/cartloom/capture-service/internal/queue"
)

type alert struct {
	reason string
	fields map[string]string
}

type fakeAlerter struct {
	alerts []alert
}

func (a *fakeAlerter) CriticalAlert(_ context.Context, reason, _ string, fields map[string]string) {
	a.alerts = append(a.alerts, alert{reason: reason, fields: fields})
}

func webhookJob(t *testing.T, evt Event) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return &queue.Job{
		ID:          JobID(evt.EventID),
		Name:        JobName,
		Queue:       Queue,
		Payload:     payload,
		State:       queue.StateActive,
		MaxAttempts: DefaultMaxAttempts,
	}
}

func TestHandleDispatchesAndMarksProcessed(t *testing.T) {
	idem := newMemChecker()
	idem.records["evt_1"] = idempotency.StatusProcessing
	w := NewWorker(idem, &fakeAlerter{}, testLogger)

	var got Event
	w.On("payment_collection.updated", func(_ context.Context, evt Event) error {
		got = evt
		return nil
	})

	if err := w.Handle(context.Background(), webhookJob(t, testEvent("evt_1"))); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got.EventID != "evt_1" {
		t.Errorf("handler saw event %q, want evt_1", got.EventID)
	}
	if idem.records["evt_1"] != idempotency.StatusProcessed {
		t.Errorf("record = %q, want processed", idem.records["evt_1"])
	}
}

func TestHandleIgnoresUnregisteredEventType(t *testing.T) {
	idem := newMemChecker()
	idem.records["evt_1"] = idempotency.StatusProcessing
	w := NewWorker(idem, &fakeAlerter{}, testLogger)

	evt := testEvent("evt_1")
	evt.EventType = "customer.created"

	if err := w.Handle(context.Background(), webhookJob(t, evt)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	// Unhandled types still complete so redeliveries stay suppressed.
	if idem.records["evt_1"] != idempotency.StatusProcessed {
		t.Errorf("record = %q, want processed", idem.records["evt_1"])
	}
}

func TestHandleErrorLeavesRecordProcessing(t *testing.T) {
	idem := newMemChecker()
	idem.records["evt_1"] = idempotency.StatusProcessing
	w := NewWorker(idem, &fakeAlerter{}, testLogger)

	w.On("payment_collection.updated", func(_ context.Context, _ Event) error {
		return errors.New("order store unavailable")
	})

	if err := w.Handle(context.Background(), webhookJob(t, testEvent("evt_1"))); err == nil {
		t.Fatal("Handle swallowed the handler error")
	}
	if idem.records["evt_1"] != idempotency.StatusProcessing {
		t.Errorf("record = %q, want still processing for the retry", idem.records["evt_1"])
	}
}

func TestDeadLetterReleasesSlotAndAlerts(t *testing.T) {
	idem := newMemChecker()
	idem.records["evt_1"] = idempotency.StatusProcessing
	alerts := &fakeAlerter{}
	w := NewWorker(idem, alerts, testLogger)

	j := webhookJob(t, testEvent("evt_1"))
	j.AttemptsMade = DefaultMaxAttempts
	w.DeadLetter(context.Background(), j, errors.New("order store unavailable"))

	if _, ok := idem.records["evt_1"]; ok {
		t.Error("processing slot not released for dead-lettered event")
	}
	if len(alerts.alerts) != 1 || alerts.alerts[0].reason != "webhook_dead_letter" {
		t.Fatalf("alerts = %+v, want one webhook_dead_letter alert", alerts.alerts)
	}
	if alerts.alerts[0].fields["event_id"] != "evt_1" {
		t.Errorf("alert fields = %v, want event id", alerts.alerts[0].fields)
	}
}

func TestDeadLetterKeepsProcessedRecord(t *testing.T) {
	// A processed record means some attempt finished; the release must
	// not throw that away.
	idem := newMemChecker()
	idem.records["evt_1"] = idempotency.StatusProcessed
	w := NewWorker(idem, &fakeAlerter{}, testLogger)

	w.DeadLetter(context.Background(), webhookJob(t, testEvent("evt_1")), errors.New("late failure"))

	if idem.records["evt_1"] != idempotency.StatusProcessed {
		t.Errorf("record = %q, want processed preserved", idem.records["evt_1"])
	}
}
