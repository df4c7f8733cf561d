package flow

import "fmt"

// Marker names a page element the flow cares about. Probes answer in
// markers so dispatch is an exhaustive switch on a closed set, never
// attribute sniffing on whatever element happened to match first.
type Marker int

const (
	// MarkerNone means no marker was present.
	MarkerNone Marker = iota
	// MarkerEmailField is the account identifier input.
	MarkerEmailField
	// MarkerEmailNext submits the identifier.
	MarkerEmailNext
	// MarkerPasswordField is the password input.
	MarkerPasswordField
	// MarkerPasswordNext submits the password.
	MarkerPasswordNext
	// MarkerVerificationRobot is the captcha / "not a robot" page.
	MarkerVerificationRobot
	// MarkerVerification2FA is the two-step verification page.
	MarkerVerification2FA
	// MarkerContinueButton is the post-password "Continue" button.
	MarkerContinueButton
	// MarkerAllowButton is the consent "Allow" button.
	MarkerAllowButton
	// MarkerAccountChooser is this account's entry on the chooser page.
	MarkerAccountChooser
	// MarkerCode is the element carrying the verification code.
	MarkerCode
	// MarkerAcceptButton is a terms-of-service "Accept" button.
	MarkerAcceptButton
	// MarkerAlreadyAccepted is the confirmation text shown when terms are
	// (or have previously been) accepted.
	MarkerAlreadyAccepted
)

func (m Marker) String() string {
	switch m {
	case MarkerNone:
		return "none"
	case MarkerEmailField:
		return "email-field"
	case MarkerEmailNext:
		return "email-next"
	case MarkerPasswordField:
		return "password-field"
	case MarkerPasswordNext:
		return "password-next"
	case MarkerVerificationRobot:
		return "verification-robot"
	case MarkerVerification2FA:
		return "verification-2fa"
	case MarkerContinueButton:
		return "continue-button"
	case MarkerAllowButton:
		return "allow-button"
	case MarkerAccountChooser:
		return "account-chooser"
	case MarkerCode:
		return "code"
	case MarkerAcceptButton:
		return "accept-button"
	case MarkerAlreadyAccepted:
		return "already-accepted"
	default:
		return fmt.Sprintf("marker(%d)", int(m))
	}
}

// Prober is the surface the step executor and the scheduler need from one
// browser window. Every method performs at most one driver round trip:
// Find and FindAny are single immediate checks and never wait for an
// element to appear. Blocking waits are built on top of them (see
// pollFind) so cancellation is observed between probes.
type Prober interface {
	// Location returns the window's current URL.
	Location() (string, error)
	// Find reports whether the marker is currently visible.
	Find(m Marker) (bool, error)
	// FindAny returns the first visible marker in the given priority
	// order, or MarkerNone.
	FindAny(ms ...Marker) (Marker, error)
	// Click clicks the marker's element.
	Click(m Marker) error
	// Fill focuses the marker's element and types value into it.
	Fill(m Marker, value string) error
	// Text returns the text content of the marker's element.
	Text(m Marker) (string, error)
	// NavigateBack goes one step back in the window's history.
	NavigateBack() error
	// Refresh reloads the window.
	Refresh() error
	// Close closes the window.
	Close() error
}
