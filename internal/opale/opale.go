// Package opale holds the site knowledge for the professional portal's
// delegation screens: entry URLs, the controls the workflow touches, and
// the catalog of delegable services. It is pure data so the navigation
// and delegation logic stay testable against any Profile.
package opale

import (
	"fmt"
	"strings"

	"github.com/tmercier/delegatva/internal/session"
)

// DefaultBaseURL is the production portal.
const DefaultBaseURL = "https://cfspro.impots.gouv.fr"

// Service is one delegable service as rendered on the services table.
// Label must match the portal's text exactly; CheckAll marks services
// whose delegation screen carries per-option checkboxes that all need
// enabling.
type Service struct {
	Label    string
	CheckAll bool
}

// DefaultServices returns the delegation catalog in portal order.
func DefaultServices() []Service {
	return []Service{
		{Label: "Messagerie"},
		{Label: "Déclarer TVA"},
		{Label: "Payer TVA"},
		{Label: "Consulter le Compte fiscal", CheckAll: true},
		{Label: "Déclarer le Résultat"},
	}
}

// Profile describes one deployment of the portal. Everything the
// workflow knows about the site lives here.
type Profile struct {
	BaseURL string

	// HomeURL is the landing page after authentication; HomeMarker is
	// the URL substring that identifies it.
	HomeURL    string
	HomeMarker string

	// DelegationURL opens the SIREN entry screen directly.
	DelegationURL string

	// The delegation screen is normally opened as a named popup from the
	// service-management context; PopupURL is relative to that context.
	PopupURL      string
	PopupName     string
	PopupGeometry string

	// SearchSubmit is the script behind the "Rechercher" control; the
	// portal renders it as a javascript link, not a submit button.
	SearchSubmit string

	ErrorDismiss     session.Selector
	ManageServices   session.Selector
	SirenInput       session.Selector
	SubscriberInput  session.Selector
	ValidateSubmit   session.Selector
	ValidateFallback session.Selector
	RoleRadios       session.Selector
	RoleNamePrefix   string
	OptionToggles    session.Selector
	NewDelegation    session.Selector
	NewSiren         session.Selector
}

// DefaultProfile returns the production profile rooted at baseURL
// (DefaultBaseURL when empty).
func DefaultProfile(baseURL string) Profile {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return Profile{
		BaseURL:       baseURL,
		HomeURL:       baseURL + "/mire/accueil.do",
		HomeMarker:    "accueil",
		DelegationURL: baseURL + "/opale_usager/SaisieSirenDelegation.do?choixSirenIn=true",
		PopupURL:      "SaisieSirenDelegation.do?choixSirenIn=true",
		PopupName:     "delegation",
		PopupGeometry: "width=810,height=600",
		SearchSubmit:  "submitform('saisie');",

		ErrorDismiss: session.XPath("//a[contains(text(),'Fermer')]"),
		// Written without the accent so it matches whatever encoding the
		// page serves "Gérer les services" with.
		ManageServices:   session.XPath("//a[contains(text(),'rer les services')]"),
		SirenInput:       session.CSS("#saisieSiren"),
		SubscriberInput:  session.CSS("input[name='num_adh']"),
		ValidateSubmit:   session.CSS("input[type='submit'][value='Valider']"),
		ValidateFallback: session.XPath("//input[@value='Valider']"),
		RoleRadios:       session.CSS("input[type='radio'][value='N2']"),
		RoleNamePrefix:   "role",
		OptionToggles:    session.CSS("input[type='checkbox']"),
		NewDelegation:    session.CSS("a.lienBlanc[href*='GererDelegation.do']"),
		NewSiren:         session.CSS("a.lienBlanc[href*='SaisieSirenDelegation.do']"),
	}
}

// ServiceLink locates the "Déléguer ou modifier" link on the services
// table row whose label matches exactly.
func (p Profile) ServiceLink(label string) session.Selector {
	return session.XPath(fmt.Sprintf(
		"//tr[contains(@class,'toutblenc')][.//label[normalize-space(.)=%s]]//a[contains(@class,'formLabel')]",
		xpathLiteral(label)))
}

// xpathLiteral quotes a string for use inside an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}
