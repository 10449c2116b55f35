package canonical

import "fmt"

// BoostSummary renders the repost actors of a post: "X", "X and Y" or
// "X and N others". It returns "" when there are no actors.
func BoostSummary(actors []Author) string {
	switch len(actors) {
	case 0:
		return ""
	case 1:
		return actors[0].Label()
	case 2:
		return fmt.Sprintf("%s and %s", actors[0].Label(), actors[1].Label())
	default:
		return fmt.Sprintf("%s and %d others", actors[0].Label(), len(actors)-1)
	}
}
