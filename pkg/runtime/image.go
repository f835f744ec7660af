package runtime

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

func splitImage(image string) (string, string, error) {
	named, err := reference.ParseNormalizedNamed(strings.TrimSpace(image))
	if err != nil {
		return "", "", fmt.Errorf("invalid image reference %q: %w", image, err)
	}
	repo := reference.FamiliarName(named)
	if digested, ok := named.(reference.Digested); ok {
		return repo, digested.Digest().String(), nil
	}
	named = reference.TagNameOnly(named)
	tagged, ok := named.(reference.Tagged)
	if !ok {
		return repo, "latest", nil
	}
	return repo, tagged.Tag(), nil
}

// JoinImage is the inverse of SplitImage
func JoinImage(repository, tag string) string {
	switch {
	case tag == "":
		return repository
	case strings.Contains(tag, ":"):
		// digest, e.g. sha256:...
		return repository + "@" + tag
	default:
		return repository + ":" + tag
	}
}
