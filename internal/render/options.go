package render

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Layout int

const (
	Double Layout = iota // left = down, right = up
	Single
)

type Side int

const (
	Right Side = iota
	Left
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Display selects what a single-sided profile shows per level.
type Display int

const (
	Delta  Display = iota // up - down
	Totals                // up + down
)

// Dimension is the quantity a glyph encodes.
type Dimension int

const (
	Volume Dimension = iota
	Ticks
)

type Normalization int

const (
	NormLevelMax Normalization = iota // largest per-level value
	NormGross                         // profile-wide total
)

// Options are resolved once from configuration; nothing here is re-parsed per update.
type Options struct {
	Layout        Layout
	Side          Side
	Display       Display
	Dimension     Dimension
	Normalization Normalization
	Offset        int             // bars right of the current bar
	MaxWidth      int             // 0 disables length encoding
	TickSize      decimal.Decimal // label rounding; zero keeps raw prices
}

func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "double", "":
		return Double, nil
	case "single":
		return Single, nil
	}
	return 0, fmt.Errorf("layout must be single or double, got %q", s)
}

func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "right", "":
		return Right, nil
	case "left":
		return Left, nil
	}
	return 0, fmt.Errorf("side must be left or right, got %q", s)
}

func ParseDisplay(s string) (Display, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "delta", "":
		return Delta, nil
	case "totals", "total":
		return Totals, nil
	}
	return 0, fmt.Errorf("display must be totals or delta, got %q", s)
}

func ParseDimension(s string) (Dimension, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "volume", "":
		return Volume, nil
	case "ticks", "count":
		return Ticks, nil
	}
	return 0, fmt.Errorf("dimension must be volume or ticks, got %q", s)
}

func ParseNormalization(s string) (Normalization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "level_max", "":
		return NormLevelMax, nil
	case "gross":
		return NormGross, nil
	}
	return 0, fmt.Errorf("normalization must be gross or level_max, got %q", s)
}
