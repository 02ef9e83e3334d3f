// Package generator defines the image-generation contract and its providers.
package generator

import (
	"context"
	"strings"
)

// Result is the outcome of one generation attempt. ImageURL is either a
// fetchable remote URL or an inline data URL.
type Result struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Failed builds an unsuccessful result.
func Failed(detail string) Result {
	return Result{Success: false, Error: detail}
}

// Generator turns a text prompt into an image reference. Implementations
// report failures in the Result instead of panicking or blocking past ctx.
type Generator interface {
	Generate(ctx context.Context, prompt string) Result
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, prompt string) Result

func (f Func) Generate(ctx context.Context, prompt string) Result { return f(ctx, prompt) }

// Chain tries each generator in order and returns the first success.
type Chain []Generator

func (c Chain) Generate(ctx context.Context, prompt string) Result {
	if len(c) == 0 {
		return Failed("no image generators configured")
	}

	var details []string
	for _, g := range c {
		if err := ctx.Err(); err != nil {
			return Failed(err.Error())
		}
		res := g.Generate(ctx, prompt)
		if res.Success && res.ImageURL != "" {
			return res
		}
		if res.Error != "" {
			details = append(details, res.Error)
		}
	}
	if len(details) == 0 {
		return Failed("all image generators failed")
	}
	return Failed(strings.Join(details, "; "))
}
