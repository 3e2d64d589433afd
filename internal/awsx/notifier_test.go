package awsx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSQS struct {
	inputs  []*sqs.SendMessageInput
	sendErr error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &sqs.SendMessageOutput{}, nil
}

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	putErr error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCriticalAlertPublishesMessageAndMetric(t *testing.T) {
	sqsClient := &fakeSQS{}
	cw := &fakeCloudWatch{}
	n := NewNotifier(sqsClient, cw, "https://sqs.test/ops-alerts", testLogger)

	n.CriticalAlert(context.Background(), "capture_dead_letter", "job capture:order_A1 exhausted 3 attempts",
		map[string]string{"order_id": "order_A1"})

	if len(sqsClient.inputs) != 1 {
		t.Fatalf("got %d sqs sends, want 1", len(sqsClient.inputs))
	}
	in := sqsClient.inputs[0]
	if *in.QueueUrl != "https://sqs.test/ops-alerts" {
		t.Errorf("queue url = %q", *in.QueueUrl)
	}
	if got := *in.MessageAttributes["severity"].StringValue; got != "critical" {
		t.Errorf("severity attribute = %q, want critical", got)
	}
	if got := *in.MessageAttributes["reason"].StringValue; got != "capture_dead_letter" {
		t.Errorf("reason attribute = %q", got)
	}

	var msg struct {
		ID       string            `json:"id"`
		Severity string            `json:"severity"`
		Reason   string            `json:"reason"`
		Fields   map[string]string `json:"fields"`
	}
	if err := json.Unmarshal([]byte(*in.MessageBody), &msg); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if msg.ID == "" || msg.Severity != "critical" || msg.Fields["order_id"] != "order_A1" {
		t.Errorf("message = %+v", msg)
	}

	if len(cw.inputs) != 1 {
		t.Fatalf("got %d metric puts, want 1", len(cw.inputs))
	}
	if *cw.inputs[0].Namespace != "Cartloom/Capture" {
		t.Errorf("namespace = %q", *cw.inputs[0].Namespace)
	}
}

func TestAlertFailuresAreSwallowed(t *testing.T) {
	sqsClient := &fakeSQS{sendErr: errors.New("sqs unreachable")}
	cw := &fakeCloudWatch{putErr: errors.New("cloudwatch unreachable")}
	n := NewNotifier(sqsClient, cw, "https://sqs.test/ops-alerts", testLogger)

	// Must not panic or propagate: alert outages never change job outcomes.
	n.WarningAlert(context.Background(), "job_retry", "retrying", nil)

	if len(sqsClient.inputs) != 1 || len(cw.inputs) != 1 {
		t.Errorf("sends = %d, puts = %d; want 1 attempt each", len(sqsClient.inputs), len(cw.inputs))
	}
}

func TestAlertWithoutQueueStillRecordsMetric(t *testing.T) {
	cw := &fakeCloudWatch{}
	n := NewNotifier(nil, cw, "", testLogger)

	n.CriticalAlert(context.Background(), "canceled_order_with_hold", "order order_A1", nil)

	if len(cw.inputs) != 1 {
		t.Errorf("got %d metric puts, want 1", len(cw.inputs))
	}
}
