package access

// Stable management features.
const (
	FeatureHorses         Feature = "horses"
	FeatureActions        Feature = "actions"
	FeatureMovements      Feature = "movements"
	FeatureLocations      Feature = "locations"
	FeatureQualifications Feature = "qualifications"
	FeatureContacts       Feature = "contacts"
	FeatureCategories     Feature = "categories"
	FeatureUsers          Feature = "users"
)

// Permission keys stored on the backend user record.
const (
	PermManageHorse         PermissionKey = "manage_horse"
	PermManageAction        PermissionKey = "manage_action"
	PermManageMovement      PermissionKey = "manage_movement"
	PermManageLocation      PermissionKey = "manage_location"
	PermManageQualification PermissionKey = "manage_qualification"
	PermManageContact       PermissionKey = "manage_contact"
	PermManageCategories    PermissionKey = "manage_categories"
	PermManageUsers         PermissionKey = "manage_users"
)

// DefaultFeatures lists the built-in feature table.
func DefaultFeatures() []FeatureSpec {
	return []FeatureSpec{
		{
			Name:        FeatureHorses,
			Permission:  PermManageHorse,
			Description: "Horse records, notes, pensions and predictions",
			Upstreams: []Upstream{
				{Path: "/horses"},
				{Path: "/pensions", Mount: "/pensions"},
				{Path: "/notes", Mount: "/notes"},
				{Path: "/predict", Mount: "/predict", Read: true},
			},
		},
		{
			Name:        FeatureActions,
			Permission:  PermManageAction,
			Description: "Care acts, procedures and analyses",
			Upstreams: []Upstream{
				{Path: "/acts"},
				{Path: "/analyses", Mount: "/analyses"},
			},
		},
		{Name: FeatureMovements, Permission: PermManageMovement, Upstreams: root("/transports"), Description: "Movements and transport"},
		{Name: FeatureLocations, Permission: PermManageLocation, Upstreams: root("/lieux"), Description: "Stable locations"},
		{Name: FeatureQualifications, Permission: PermManageQualification, Upstreams: root("/qualifications"), Description: "Competition qualifications"},
		{Name: FeatureContacts, Permission: PermManageContact, Upstreams: root("/contacts"), Description: "Contacts and interventions"},
		{Name: FeatureCategories, Permission: PermManageCategories, Upstreams: root("/categories"), Description: "Horse and note categories"},
		{Name: FeatureUsers, Permission: PermManageUsers, AdminOnly: true, Upstreams: root("/users"), Description: "User accounts and permissions"},
	}
}

func root(path string) []Upstream {
	return []Upstream{{Path: path}}
}
