package capture

import "fmt"

// IdempotencyKey derives the gateway capture key for an (order, hold)
// pair. It must stay byte-identical across retries so the gateway can
// deduplicate repeated capture attempts; never fold wall-clock time in.
func IdempotencyKey(orderID, holdRef string) string {
	return fmt.Sprintf("cap_%s_%s", orderID, holdRef)
}
