// Package agent provides the committee members behind the Proposer,
// Participant and Judge capabilities. Vendors differ only in the chat client
// an LLMAgent talks to; nothing downstream branches on vendor identity.
package agent

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/arbiter/internal/discussion"
	"github.com/Iron-Ham/arbiter/internal/proposal"
)

// Vendor identifies a supported AI vendor.
type Vendor string

const (
	VendorOpenAI    Vendor = "openai"
	VendorAnthropic Vendor = "anthropic"
	VendorGemini    Vendor = "gemini"
	// VendorScripted replays configured choices without calling any model.
	VendorScripted Vendor = "scripted"
)

// ErrUnknownVendor is returned when the configured vendor is unsupported.
var ErrUnknownVendor = fmt.Errorf("unknown vendor")

// ParseVendor normalizes a configured vendor name.
func ParseVendor(s string) (Vendor, error) {
	switch v := Vendor(strings.ToLower(strings.TrimSpace(s))); v {
	case VendorOpenAI, VendorAnthropic, VendorGemini, VendorScripted:
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownVendor, s)
}

// Agent is one committee member. It proposes, discusses and judges.
type Agent interface {
	proposal.Proposer
	discussion.Participant
	discussion.Judge
	Vendor() Vendor
}

// pricing is USD per million tokens.
type pricing struct {
	input, output float64
}

var modelPricing = map[string]pricing{
	"gpt-4o":            {input: 2.50, output: 10.00},
	"gpt-4o-mini":       {input: 0.15, output: 0.60},
	"gpt-4.1":           {input: 2.00, output: 8.00},
	"claude-sonnet-4-5": {input: 3.00, output: 15.00},
	"claude-haiku-4-5":  {input: 1.00, output: 5.00},
	"claude-opus-4-1":   {input: 15.00, output: 75.00},
	"gemini-2.5-pro":    {input: 1.25, output: 10.00},
	"gemini-2.5-flash":  {input: 0.30, output: 2.50},
}

// EstimateCost returns the USD cost of a call, and false when the model has
// no known pricing.
func EstimateCost(model string, inputTokens, outputTokens int) (float64, bool) {
	p, ok := modelPricing[model]
	if !ok {
		return 0, false
	}
	return (float64(inputTokens)*p.input + float64(outputTokens)*p.output) / 1_000_000, true
}
