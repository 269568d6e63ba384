package streaming

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"gcli2api-go/internal/common"
)

// TriggerReasons is the configurable set of Gemini finishReason values
// that cause a continuation call rather than ending the response.
type TriggerReasons map[string]bool

// DefaultTriggerReasons continues only on MAX_TOKENS, per §9.
func DefaultTriggerReasons() TriggerReasons {
	return TriggerReasons{"MAX_TOKENS": true}
}

// ShouldContinue reports whether finishReason warrants another call.
func (t TriggerReasons) ShouldContinue(finishReason string) bool {
	return t[finishReason]
}

// BuildContinuationPayload clones the original backend request payload and
// appends the model's partial output plus a continuation prompt as the
// next turn, so the backend resumes from where it left off instead of
// restarting the conversation.
func BuildContinuationPayload(originalPayload []byte, partialText string) ([]byte, error) {
	contents := gjson.GetBytes(originalPayload, "contents")
	out := append([]byte(nil), originalPayload...)

	modelTurn := map[string]any{
		"role":  "model",
		"parts": []map[string]any{{"text": partialText}},
	}
	continuationTurn := map[string]any{
		"role":  "user",
		"parts": []map[string]any{{"text": common.ContinuationPrompt}},
	}

	appended := make([]any, 0, len(contents.Array())+2)
	for _, c := range contents.Array() {
		appended = append(appended, c.Value())
	}
	appended = append(appended, modelTurn, continuationTurn)

	out, err := sjson.SetBytes(out, "contents", appended)
	if err != nil {
		return nil, fmt.Errorf("build continuation payload: %w", err)
	}
	return out, nil
}

// AntiTruncationCall performs one backend call given the current request
// payload and returns the emitted text plus the raw finishReason.
type AntiTruncationCall func(ctx context.Context, payload []byte) (text, finishReason string, err error)

// RunAntiTruncation drives the continuation loop: it keeps calling call
// with a rebuilt payload as long as finishReason triggers continuation
// and the attempt budget allows, de-duplicating overlapping text at each
// boundary, and returns the fully stitched text and final finishReason.
func RunAntiTruncation(ctx context.Context, initialPayload []byte, maxAttempts int, triggers TriggerReasons, call AntiTruncationCall) (string, string, error) {
	payload := initialPayload
	var accumulated string
	var finishReason string

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return accumulated, finishReason, ctx.Err()
		default:
		}

		text, reason, err := call(ctx, payload)
		if err != nil {
			return accumulated, finishReason, err
		}
		accumulated = MergeContinuation(accumulated, text)
		finishReason = reason

		if !triggers.ShouldContinue(reason) {
			return accumulated, finishReason, nil
		}

		// Rebuild from the original request each round rather than the
		// previous round's payload, so the model+continuation turns
		// appended below don't pile up across attempts.
		next, err := BuildContinuationPayload(initialPayload, accumulated)
		if err != nil {
			return accumulated, finishReason, err
		}
		payload = next
	}
	return accumulated, finishReason, nil
}
