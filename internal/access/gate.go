package access

// Gate evaluates actors against the feature catalogue. It holds no state
// besides the immutable catalogue, so every call recomputes its Decision.
type Gate struct {
	catalogue *Catalogue
}

// NewGate constructs a Gate over catalogue.
func NewGate(catalogue *Catalogue) *Gate {
	return &Gate{catalogue: catalogue}
}

// Catalogue exposes the feature table the gate evaluates against.
func (g *Gate) Catalogue() *Catalogue {
	return g.catalogue
}

// Evaluate decides whether actor may use feature. A nil actor is not
// authenticated. Admins are always allowed; admin-only features deny every
// other role without consulting permissions; everyone else needs the
// feature's key set to true. An unknown feature is a caller bug and returns
// *InvalidFeatureError.
func (g *Gate) Evaluate(actor *Actor, feature Feature) (Decision, error) {
	spec, ok := g.catalogue.Lookup(feature)
	if !ok {
		return Decision{}, &InvalidFeatureError{Feature: feature}
	}
	switch {
	case actor == nil:
		return deny(ReasonNotAuthenticated), nil
	case actor.Role == RoleAdmin:
		return allow(), nil
	case spec.AdminOnly:
		return deny(ReasonRoleInsufficient), nil
	case actor.Permissions.Allows(spec.Permission):
		return allow(), nil
	default:
		return deny(ReasonPermissionDenied), nil
	}
}

// FeatureDecision pairs a feature with its decision.
type FeatureDecision struct {
	Feature Feature `json:"feature"`
	Decision
}

// EvaluateAll evaluates every catalogue feature for actor, in table order.
func (g *Gate) EvaluateAll(actor *Actor) []FeatureDecision {
	out := make([]FeatureDecision, 0, len(g.catalogue.specs))
	for _, spec := range g.catalogue.specs {
		d, _ := g.Evaluate(actor, spec.Name)
		out = append(out, FeatureDecision{Feature: spec.Name, Decision: d})
	}
	return out
}
