package cache

// Keyer builds cache keys for the lookups the diagram controller performs.
type Keyer interface {
	// ProjectKey identifies a single project.
	ProjectKey(projectID string) string
	// FeatureTreeKey identifies the feature forest of a project.
	FeatureTreeKey(projectID string) string
	// TestsKey identifies the full test list.
	TestsKey() string
	// FeatureTestsKey identifies the tests of one feature.
	FeatureTestsKey(featureID string) string
	// DiagramKey identifies a computed diagram for a project under the given
	// layout options.
	DiagramKey(projectID string, opts any) string
}

// DefaultKeyer generates unscoped keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a keyer with no prefix.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

func (DefaultKeyer) ProjectKey(projectID string) string { return "project:" + projectID }

func (DefaultKeyer) FeatureTreeKey(projectID string) string { return "features:tree:" + projectID }

func (DefaultKeyer) TestsKey() string { return "tests:all" }

func (DefaultKeyer) FeatureTestsKey(featureID string) string { return "tests:feature:" + featureID }

// DiagramKey hashes the options so any change in geometry gets a new key.
func (DefaultKeyer) DiagramKey(projectID string, opts any) string {
	return hashKey("diagram:"+projectID, opts)
}
