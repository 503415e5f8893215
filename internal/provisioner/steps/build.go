package steps

// Step names, in creation order.
const (
	NameProject         = "project"
	NameSchema          = "schema"
	NamePermissions     = "permissions"
	NameSystemUser      = "system_user"
	NameSystemToken     = "system_token"
	NameSecrets         = "secrets"
	NameVhost           = "vhost"
	NameDatabases       = "databases"
	NameAdminMembership = "admin_membership"
	NameInvitations     = "invitations"
)

// Build returns a fresh step list in creation order. The databases step is
// present only when auxiliary databases are configured.
func Build(d Deps, s Settings) []*Step {
	list := []*Step{
		projectRecord(d),
		schema(d),
		permissions(d, s),
		systemUser(d),
		systemToken(d, s),
		projectSecrets(d),
		vhost(d),
	}
	if len(s.AuxDatabases) > 0 {
		list = append(list, databases(d, s))
	}
	return append(list, adminMembership(d, s), invitations(d, s))
}
