// ABOUTME: Context and type names used on the controller sockets
// ABOUTME: Wire-stable string constants shared by router, bootstrap and tests

package envelope

// Context names a controller subsystem.
type Context string

// Contexts pushed by the controller or addressed by the console.
const (
	ContextError         Context = "ERROR"
	ContextInvitations   Context = "INVITATIONS"
	ContextContacts      Context = "CONTACTS"
	ContextOutOfBand     Context = "OUT_OF_BAND"
	ContextDemographics  Context = "DEMOGRAPHICS"
	ContextRoles         Context = "ROLES"
	ContextUsers         Context = "USERS"
	ContextCredentials   Context = "CREDENTIALS"
	ContextPresentations Context = "PRESENTATIONS"
	ContextSettings      Context = "SETTINGS"
	ContextImages        Context = "IMAGES"
	ContextOrganization  Context = "ORGANIZATION"
	ContextGovernance    Context = "GOVERNANCE"
)

// Type names an action or result within a context.
type Type string

// Inbound types (controller -> console).
const (
	TypeServerError    Type = "SERVER_ERROR"
	TypeWebsocketError Type = "WEBSOCKET_ERROR"

	TypeInvitation       Type = "INVITATION"
	TypeInvitationsError Type = "INVITATIONS_ERROR"

	TypeContacts      Type = "CONTACTS"
	TypeContactsError Type = "CONTACTS_ERROR"

	TypeDemographicsError Type = "DEMOGRAPHICS_ERROR"

	TypeRoles Type = "ROLES"

	TypeUsers           Type = "USERS"
	TypeUser            Type = "USER"
	TypeUserUpdated     Type = "USER_UPDATED"
	TypePasswordUpdated Type = "PASSWORD_UPDATED"
	TypeUserCreated     Type = "USER_CREATED"
	TypeUserDeleted     Type = "USER_DELETED"
	TypeUserError       Type = "USER_ERROR"
	TypeUserSuccess     Type = "USER_SUCCESS"

	TypeCredentials      Type = "CREDENTIALS"
	TypeCredentialsError Type = "CREDENTIALS_ERROR"

	TypeTrustedTravelerVerified Type = "TRUSTED_TRAVELER_VERIFIED"
	TypeVerificationFailed      Type = "VERIFICATION_FAILED"
	TypePresentationReports     Type = "PRESENTATION_REPORTS"

	TypeSettingsTheme        Type = "SETTINGS_THEME"
	TypeSettingsSchemas      Type = "SETTINGS_SCHEMAS"
	TypeLogo                 Type = "LOGO"
	TypeSettingsOrganization Type = "SETTINGS_ORGANIZATION"
	TypeSettingsSMTP         Type = "SETTINGS_SMTP"
	TypeSettingsError        Type = "SETTINGS_ERROR"
	TypeSettingsSuccess      Type = "SETTINGS_SUCCESS"

	TypeImageList   Type = "IMAGE_LIST"
	TypeImagesError Type = "IMAGES_ERROR"

	TypeOrganizationName Type = "ORGANIZATION_NAME"

	TypePrivilegesError   Type = "PRIVILEGES_ERROR"
	TypePrivilegesSuccess Type = "PRIVILEGES_SUCCESS"
)

// Outbound request types (console -> controller).
const (
	TypeGetTheme        Type = "GET_THEME"
	TypeGetSchemas      Type = "GET_SCHEMAS"
	TypeGetAll          Type = "GET_ALL"
	TypeGetOrganization Type = "GET_ORGANIZATION"
	TypeGetSMTP         Type = "GET_SMTP"
	TypeSetTheme        Type = "SET_THEME"
	TypeCreateSingleUse Type = "CREATE_SINGLE_USE"
)
