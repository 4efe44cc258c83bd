package account

import "github.com/ehr/patientctl/internal/platform/apiclient"

// Profile is the identity-provider profile sent to getOrCreatePatient. The
// field names follow Google's userinfo document.
type Profile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

// Patient is the backend's answer to getOrCreatePatient.
type Patient struct {
	ID           apiclient.ID `json:"id"`
	UserID       apiclient.ID `json:"user_id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	ImageURL     string       `json:"imageURL"`
	PhoneNo      string       `json:"phoneNo"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}
