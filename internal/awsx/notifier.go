package awsx

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

const metricNamespace = "Cartloom/Capture"

// Notifier is the operational alert sink: critical alerts are published to
// an SQS ops queue (picked up by the paging integration, an external
// collaborator) and counted as a CloudWatch metric with a reason dimension.
// Publishing is fire-and-forget; failures are logged, never propagated,
// because an alert outage must not change job outcomes.
type Notifier struct {
	sqsClient SQSAPI
	cw        CloudWatchAPI
	queueURL  string
	logger    *slog.Logger
	nowFunc   func() time.Time
}

// NewNotifier returns a Notifier bound to an ops queue URL.
func NewNotifier(sqsClient SQSAPI, cw CloudWatchAPI, queueURL string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sqsClient: sqsClient,
		cw:        cw,
		queueURL:  queueURL,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// alertMessage is the envelope published to the ops queue.
type alertMessage struct {
	ID        string            `json:"id"`
	Severity  string            `json:"severity"`
	Reason    string            `json:"reason"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	EmittedAt string            `json:"emitted_at"`
}

// CriticalAlert publishes a dead-letter / manual-intervention alert.
// reason is a stable machine key (e.g. "capture_dlq"); message is for humans.
func (n *Notifier) CriticalAlert(ctx context.Context, reason, message string, fields map[string]string) {
	n.emit(ctx, "critical", reason, message, fields)
}

// WarningAlert publishes an ordinary retry-level warning.
func (n *Notifier) WarningAlert(ctx context.Context, reason, message string, fields map[string]string) {
	n.emit(ctx, "warning", reason, message, fields)
}

func (n *Notifier) emit(ctx context.Context, severity, reason, message string, fields map[string]string) {
	msg := alertMessage{
		ID:        uuid.NewString(),
		Severity:  severity,
		Reason:    reason,
		Message:   message,
		Fields:    fields,
		EmittedAt: n.nowFunc().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error("alert marshal failed", slog.String("reason", reason), slog.String("error", err.Error()))
		return
	}

	if n.queueURL != "" && n.sqsClient != nil {
		input := &sqs.SendMessageInput{
			QueueUrl:    &n.queueURL,
			MessageBody: sdkaws.String(string(body)),
			MessageAttributes: map[string]sqstypes.MessageAttributeValue{
				"severity": {DataType: sdkaws.String("String"), StringValue: &msg.Severity},
				"reason":   {DataType: sdkaws.String("String"), StringValue: &msg.Reason},
			},
		}
		if _, err := n.sqsClient.SendMessage(ctx, input); err != nil {
			n.logger.Error("alert publish failed",
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
		}
	}

	if n.cw != nil {
		_, err := n.cw.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace: sdkaws.String(metricNamespace),
			MetricData: []cwtypes.MetricDatum{
				{
					MetricName: sdkaws.String("Alerts"),
					Value:      sdkaws.Float64(1),
					Unit:       cwtypes.StandardUnitCount,
					Dimensions: []cwtypes.Dimension{
						{Name: sdkaws.String("severity"), Value: &msg.Severity},
						{Name: sdkaws.String("reason"), Value: &msg.Reason},
					},
				},
			},
		})
		if err != nil {
			n.logger.Error("alert metric failed",
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
		}
	}

	n.logger.Warn("operational alert",
		slog.String("severity", severity),
		slog.String("reason", reason),
		slog.String("message", message),
	)
}
