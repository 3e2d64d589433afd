package webhooks

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cartloom/capture-service/internal/validation"
)

// webhookRequest is the delivery envelope the gateway posts.
type webhookRequest struct {
	EventID   string          `json:"eventId" validate:"required,event_ref"`
	EventType string          `json:"eventType" validate:"required"`
	EventData json.RawMessage `json:"eventData"`
}

// RegisterRoutes registers the webhook intake endpoint. The gateway
// treats any 2xx as acknowledged, so duplicates answer 200 rather than
// an error status that would trigger redelivery.
func RegisterRoutes(r *gin.Engine, intake *Intake) {
	v := validation.New()

	r.POST("/webhooks/payment", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req webhookRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		outcome, err := intake.Ingest(ctx, Event{
			EventID:   req.EventID,
			EventType: req.EventType,
			EventData: req.EventData,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "intake_failed", "detail": err.Error()})
			return
		}

		switch outcome {
		case OutcomeDuplicate:
			c.JSON(http.StatusOK, gin.H{"status": "duplicate", "event_id": req.EventID})
		default:
			c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "event_id": req.EventID})
		}
	})
}
