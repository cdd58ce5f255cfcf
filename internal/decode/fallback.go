package decode

import (
	"context"
	"fmt"
	"time"

	"github.com/msto63/mSW/internal/model"
)

// DecodeWithFallback runs the decoding loop across the temperature ladder
// until an attempt passes the quality thresholds. Every retry is a fully
// independent decode: the inputs are reset to the prefill boundary and no
// tokens of the failed attempt are reused. The final attempt's result is
// returned even when it still fails its thresholds; its Fallback field
// carries the verdict for the caller.
func (e *Engine) DecodeWithFallback(ctx context.Context, encoderOutput *model.Tensor, inputs *model.DecodingInputs, opts Options, progress ProgressFunc, timings *model.TranscriptionTimings) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("decoding options: %w", err)
	}

	temperatures := opts.Temperatures()
	var result *Result

	for i, temperature := range temperatures {
		attempt := opts
		attempt.Temperature = temperature

		// Language detection runs per attempt; a re-detected language
		// rewrites the prefill prompt before the decode
		if attempt.Language == "" && attempt.DetectLanguage && e.decoder.IsMultilingual() {
			lang, _, err := e.DetectLanguage(ctx, encoderOutput, inputs)
			if err != nil {
				return nil, err
			}
			attempt.Language = lang
			inputs.InitialPrompt = e.BuildPrompt(attempt)
		}

		var err error
		result, err = e.DecodeText(ctx, encoderOutput, inputs, attempt, progress, timings)
		if err != nil {
			return nil, err
		}

		if result.Fallback == nil || !result.Fallback.NeedsFallback {
			break
		}
		if i == len(temperatures)-1 {
			e.log.Warn("temperature ladder exhausted",
				"temperature", temperature,
				"reason", result.Fallback.Reason)
			break
		}

		fallbackStart := time.Now()
		e.log.Debug("decode attempt needs fallback",
			"temperature", temperature,
			"reason", result.Fallback.Reason,
			"attempt", i+1)
		inputs.Reset(inputs.PrefillLength)
		if timings != nil {
			timings.DecodingFallback += time.Since(fallbackStart)
			timings.TotalDecodingFallbacks++
		}
	}

	if result == nil {
		return nil, model.ErrDecodingFailed
	}
	return result, nil
}
