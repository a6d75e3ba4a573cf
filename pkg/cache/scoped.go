package cache

// ScopedKeyer wraps a Keyer with a prefix so several data sources can share
// one cache without colliding.
//
// Example usage:
//
//	// Keys for a remote API account
//	remote := NewScopedKeyer(NewDefaultKeyer(), "remote:api.example.com:")
//
//	// Keys for a local SQLite database
//	local := NewScopedKeyer(NewDefaultKeyer(), "sqlite:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

func (k *ScopedKeyer) ProjectKey(projectID string) string {
	return k.prefix + k.inner.ProjectKey(projectID)
}

func (k *ScopedKeyer) FeatureTreeKey(projectID string) string {
	return k.prefix + k.inner.FeatureTreeKey(projectID)
}

func (k *ScopedKeyer) TestsKey() string {
	return k.prefix + k.inner.TestsKey()
}

func (k *ScopedKeyer) FeatureTestsKey(featureID string) string {
	return k.prefix + k.inner.FeatureTestsKey(featureID)
}

func (k *ScopedKeyer) DiagramKey(projectID string, opts any) string {
	return k.prefix + k.inner.DiagramKey(projectID, opts)
}
