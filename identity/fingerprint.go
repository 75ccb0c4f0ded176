package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"review_scrooper/models"
)

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonWordRegex    = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
)

// Fingerprint identifies a review across harvests of the same listing. The
// page's review id is used when present; otherwise the author, post date and
// normalized comment text stand in for it.
func Fingerprint(r *models.Review) string {
	var input string
	if id := strings.TrimSpace(models.Deref(r.DataReviewID)); id != "" {
		input = "id|" + id
	} else {
		input = fmt.Sprintf("text|%s|%s|%s",
			NormalizeText(models.Deref(r.Username)),
			NormalizeText(models.Deref(r.PostTime)),
			NormalizeText(r.Comment),
		)
	}
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonWordRegex.ReplaceAllString(s, " ")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
