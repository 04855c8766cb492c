package app

import (
	"fmt"
	"log/slog"

	"github.com/vocahire/vocahire/internal/config"
	"github.com/vocahire/vocahire/internal/observe"
	"github.com/vocahire/vocahire/internal/resilience"
	"github.com/vocahire/vocahire/pkg/provider/diarize"
	"github.com/vocahire/vocahire/pkg/provider/llm"
	"github.com/vocahire/vocahire/pkg/provider/stt"
)

// Providers holds one interface value per external collaborator. The LLM
// and transcriber are usually failover wrappers from [BuildProviders].
type Providers struct {
	LLM         llm.Provider
	STT         stt.Transcriber
	Diarization diarize.Diarizer
}

// validate reports the first missing provider.
func (p *Providers) validate() error {
	switch {
	case p == nil:
		return fmt.Errorf("providers must not be nil")
	case p.LLM == nil:
		return fmt.Errorf("llm provider is not configured")
	case p.STT == nil:
		return fmt.Errorf("stt provider is not configured")
	case p.Diarization == nil:
		return fmt.Errorf("diarization provider is not configured")
	}
	return nil
}

// BuildProviders instantiates every provider named in pc through reg. The
// primary LLM and transcriber are wrapped in failover groups together with
// their configured fallbacks; each entry gets its own circuit breaker.
// Every backend call is counted on the global provider metrics.
func BuildProviders(reg *config.Registry, pc config.ProvidersConfig) (*Providers, error) {
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state change", "provider", name, "from", from, "to", to)
			},
		},
		OnAttempt: observe.DefaultMetrics().RecordProviderAttempt,
	}

	primaryLLM, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", pc.LLM.Name, err)
	}
	llmGroup := resilience.NewLLMFallback(primaryLLM, pc.LLM.Name, fbCfg)
	for i, entry := range pc.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %d %q: %w", i, entry.Name, err)
		}
		llmGroup.AddFallback(fallbackName(entry, i), p)
	}
	slog.Info("provider created", "kind", "llm", "order", llmGroup.Names())

	primarySTT, err := reg.CreateSTT(pc.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", pc.STT.Name, err)
	}
	sttGroup := resilience.NewTranscriberFallback(primarySTT, pc.STT.Name, fbCfg)
	for i, entry := range pc.STTFallbacks {
		t, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %d %q: %w", i, entry.Name, err)
		}
		sttGroup.AddFallback(fallbackName(entry, i), t)
	}
	slog.Info("provider created", "kind", "stt", "order", sttGroup.Names())

	d, err := reg.CreateDiarization(pc.Diarization)
	if err != nil {
		return nil, fmt.Errorf("create diarization provider %q: %w", pc.Diarization.Name, err)
	}
	// Even a single diarizer gets a breaker so a dead backend fails fast.
	diarGroup := resilience.NewDiarizerFallback(d, pc.Diarization.Name, fbCfg)
	for i, entry := range pc.DiarizationFallbacks {
		fd, err := reg.CreateDiarization(entry)
		if err != nil {
			return nil, fmt.Errorf("create diarization fallback %d %q: %w", i, entry.Name, err)
		}
		diarGroup.AddFallback(fallbackName(entry, i), fd)
	}
	slog.Info("provider created", "kind", "diarization", "order", diarGroup.Names())

	return &Providers{
		LLM:         llmGroup,
		STT:         sttGroup,
		Diarization: diarGroup,
	}, nil
}

// fallbackName disambiguates fallbacks that reuse a provider name with a
// different model, so breaker logs stay readable.
func fallbackName(entry config.ProviderEntry, i int) string {
	if entry.Model != "" {
		return entry.Name + "/" + entry.Model
	}
	return fmt.Sprintf("%s#%d", entry.Name, i+1)
}
