package router

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
)

// Local-tier context window sizes, in tokens.
const (
	contextSmall  = 8192
	contextNormal = 16384
	contextLarge  = 32768
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// promptTokens estimates the prompt size. Falls back to a bytes/4
// approximation when the encoding cannot be loaded (offline start).
func promptTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// contextWindowFor picks the local runtime context window. Hosted tiers
// manage their own windows and report 0. Complexity 7-8 always gets the
// large window; below that the prompt either fits the small window with
// headroom or gets the 16K default.
func contextWindowFor(tier domain.Tier, complexity float64, task *domain.Task) int {
	if tier != domain.TierOllama {
		return 0
	}
	if complexity >= 7 {
		return contextLarge
	}
	if promptTokens(task.Title+"\n"+task.Description) < contextSmall/4 {
		return contextSmall
	}
	return contextNormal
}
