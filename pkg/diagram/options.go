package diagram

import "fmt"

// Options holds the layout constants.
type Options struct {
	// Root is the default anchor of the project node.
	Root Position `toml:"root" yaml:"root"`
	// FirstLevelY is the y of top-level features.
	FirstLevelY float64 `toml:"first_level_y" yaml:"first_level_y"`
	// LevelStep is the vertical distance between a feature and its children.
	LevelStep float64 `toml:"level_step" yaml:"level_step"`
	// SpanStart and SpanEnd bound the horizontal span of top-level features.
	SpanStart float64 `toml:"span_start" yaml:"span_start"`
	SpanEnd   float64 `toml:"span_end" yaml:"span_end"`
	// MinFeatureWidth is the smallest horizontal slot a feature receives.
	MinFeatureWidth float64 `toml:"min_feature_width" yaml:"min_feature_width"`
	// SpanCap limits a feature's child span to SpanCap times its subtree width.
	SpanCap float64 `toml:"span_cap" yaml:"span_cap"`
	// GroupOffset places the main test group relative to its feature.
	GroupOffset Position `toml:"group_offset" yaml:"group_offset"`
	// PriorityOffset is the vertical gap between the main group and the
	// high or low priority groups.
	PriorityOffset float64 `toml:"priority_offset" yaml:"priority_offset"`
	// StackGrid is the column width used to detect colliding groups.
	StackGrid float64 `toml:"stack_grid" yaml:"stack_grid"`
	// StackSpacing separates re-stacked groups.
	StackSpacing float64 `toml:"stack_spacing" yaml:"stack_spacing"`
}

// DefaultOptions returns the standard canvas geometry.
func DefaultOptions() Options {
	return Options{
		Root:            Position{X: 400, Y: 50},
		FirstLevelY:     150,
		LevelStep:       150,
		SpanStart:       0,
		SpanEnd:         800,
		MinFeatureWidth: 250,
		SpanCap:         2.0,
		GroupOffset:     Position{X: 350, Y: -40},
		PriorityOffset:  120,
		StackGrid:       10,
		StackSpacing:    100,
	}
}

// Validate reports the first option that would make a layout degenerate.
func (o Options) Validate() error {
	switch {
	case o.LevelStep <= 0:
		return fmt.Errorf("level_step must be positive, got %v", o.LevelStep)
	case o.MinFeatureWidth <= 0:
		return fmt.Errorf("min_feature_width must be positive, got %v", o.MinFeatureWidth)
	case o.SpanEnd < o.SpanStart:
		return fmt.Errorf("span_end %v is before span_start %v", o.SpanEnd, o.SpanStart)
	case o.SpanCap < 1:
		return fmt.Errorf("span_cap must be at least 1, got %v", o.SpanCap)
	case o.StackGrid <= 0:
		return fmt.Errorf("stack_grid must be positive, got %v", o.StackGrid)
	case o.StackSpacing <= 0:
		return fmt.Errorf("stack_spacing must be positive, got %v", o.StackSpacing)
	}
	return nil
}
