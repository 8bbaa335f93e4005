package catalog

// Entities the extension backend is expected to expose.
var defaultEntities = []string{
	"profiles",
	"subscription_plans",
	"subscriptions",
	"payment_events",
	"usage_metrics",
	"feature_flags",
	"chart_templates",
	"user_settings",
}

// Reference data loaded by the initial setup.
var defaultSeeds = []struct {
	entity string
	min    int
}{
	{"subscription_plans", 3},
	{"feature_flags", 1},
	{"chart_templates", 5},
}

// Per-user data that must not be readable without a session.
var defaultProtected = []string{
	"profiles",
	"subscriptions",
	"payment_events",
	"usage_metrics",
	"user_settings",
}

// DefaultSpecs returns the built-in checks for the extension backend.
func DefaultSpecs() []CheckSpec {
	specs := make([]CheckSpec, 0, len(defaultEntities)+len(defaultSeeds)+1+len(defaultProtected))
	for _, e := range defaultEntities {
		specs = append(specs, CheckSpec{
			ID:     "entity." + e,
			Kind:   KindEntityExists,
			Target: e,
		})
	}
	for _, s := range defaultSeeds {
		n := s.min
		specs = append(specs, CheckSpec{
			ID:        "seed." + s.entity,
			Kind:      KindSeedDataPresent,
			Target:    s.entity,
			Threshold: &n,
		})
	}
	specs = append(specs, CheckSpec{
		ID:          "auth.session",
		Kind:        KindAuthReachable,
		Description: "auth subsystem answers identity lookups",
	})
	for _, e := range defaultProtected {
		specs = append(specs, CheckSpec{
			ID:     "rls." + e,
			Kind:   KindSecurityEnforced,
			Target: e,
		})
	}
	return specs
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(DefaultSpecs())
	if err != nil {
		panic("catalog: built-in checks are invalid: " + err.Error())
	}
	return c
}
