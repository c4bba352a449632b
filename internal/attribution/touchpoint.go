// Package attribution implements position-based (U-shaped) multi-touch
// revenue attribution over conversion paths.
package attribution

import "strings"

// Touchpoint identifies one marketing interaction by its source, medium and
// campaign labels. It is comparable and used directly as a map key, so labels
// containing "/" never collide.
type Touchpoint struct {
	Source   string `json:"source"`
	Medium   string `json:"medium"`
	Campaign string `json:"campaign"`
}

// DirectTouchpoint is the placeholder interaction for direct visits with no
// campaign data. It only keeps credit when it is the sole touchpoint.
var DirectTouchpoint = Touchpoint{Source: "(direct)", Medium: "(none)", Campaign: "(unavailable)"}

// String renders the touchpoint as source/medium/campaign.
func (t Touchpoint) String() string {
	return strings.Join([]string{t.Source, t.Medium, t.Campaign}, "/")
}

// IsDirect reports whether t is the direct placeholder.
func (t Touchpoint) IsDirect() bool {
	return t == DirectTouchpoint
}
