package generator

import (
	"context"
	"strings"
)

// Theme maps a prompt keyword to a stock image.
type Theme struct {
	Keyword  string
	ImageURL string
}

// DefaultThemes are the stock packaging shots used when no model is configured.
var DefaultThemes = []Theme{
	{Keyword: "ice cream", ImageURL: "https://images.unsplash.com/photo-1633053699042-45e053eb813d?q=80&w=800"},
	{Keyword: "coca", ImageURL: "https://images.unsplash.com/photo-1554866585-cd94860890b7?q=80&w=800"},
	{Keyword: "holiday", ImageURL: "https://images.unsplash.com/photo-1512909006721-3d6018887383?q=80&w=800"},
}

// DefaultThemeImage is returned when no keyword matches.
const DefaultThemeImage = "https://images.unsplash.com/photo-1550989460-0adf9ea622e2?q=80&w=800"

// Themed picks a stock image by keyword. It never fails.
type Themed struct {
	Themes   []Theme
	Fallback string
}

// NewThemed returns a Themed generator with the default stock images.
func NewThemed() *Themed {
	return &Themed{Themes: DefaultThemes, Fallback: DefaultThemeImage}
}

func (t *Themed) Generate(_ context.Context, prompt string) Result {
	p := strings.ToLower(prompt)
	for _, theme := range t.Themes {
		if strings.Contains(p, theme.Keyword) {
			return Result{Success: true, ImageURL: theme.ImageURL}
		}
	}
	return Result{Success: true, ImageURL: t.Fallback}
}
