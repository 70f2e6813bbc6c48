package recognizer

import (
	"github.com/lexiqai/caption-gateway/internal/stt"
)

// New returns a live recognizer over engine, or the demo recognizer when
// no engine is available
func New(engine stt.Engine, opts Options) Recognizer {
	if engine == nil {
		return NewDemo(opts)
	}
	return NewLive(engine, opts)
}
