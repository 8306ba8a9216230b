package monitoring

import (
	"github.com/rs/zerolog/log"
)

// EmitAlert logs a health alert. Persistence and dedup happen in the health
// service; this is the operator-visible channel.
func EmitAlert(flag, message string, labels map[string]string) {
	HealthAlertsEmitted.WithLabelValues(flag).Inc()
	log.Error().
		Str("alert", flag).
		Fields(labels).
		Msg("ALERT: " + message)
}
