package calibration

import (
	"fmt"
	"time"
)

// Plan describes one calibration pass: the frequency sweep and the sampling
// parameters handed to the acquisition firmware.
type Plan struct {
	FrequencyStartHz float64
	FrequencyStopHz  float64
	FrequencyStepHz  float64
	SampleCount      int
	SampleWindow     time.Duration
}

// Frequencies expands the sweep into the concrete measurement frequencies,
// inclusive of the stop frequency when the step lands on it.
func (p Plan) Frequencies() []float64 {
	if p.FrequencyStepHz <= 0 || p.FrequencyStopHz < p.FrequencyStartHz {
		return nil
	}
	count := int((p.FrequencyStopHz-p.FrequencyStartHz)/p.FrequencyStepHz) + 1
	freqs := make([]float64, 0, count)
	for f := p.FrequencyStartHz; f <= p.FrequencyStopHz+p.FrequencyStepHz/2; f += p.FrequencyStepHz {
		freqs = append(freqs, f)
	}
	return freqs
}

// Fingerprint returns a stable identifier for the plan, used as part of the
// calibration cache key so a changed sweep invalidates cached corrections.
func (p Plan) Fingerprint() string {
	return fmt.Sprintf("%.0f-%.0f-%.0f/%d/%dms",
		p.FrequencyStartHz, p.FrequencyStopHz, p.FrequencyStepHz,
		p.SampleCount, p.SampleWindow.Milliseconds())
}
