package identity

import (
	"testing"

	"review_scrooper/models"
)

func review(id, user, posted, comment string) *models.Review {
	r := models.NewReview(models.ReviewFields{
		Username: models.StringPtr(user),
		PostTime: models.StringPtr(posted),
		Comment:  comment,
	}, models.StringPtr(id), nil)
	return &r
}

func TestFingerprintPrefersReviewID(t *testing.T) {
	a := review("101", "Jane", "May 2022", "Great stay!")
	b := review("101", "Someone else", "June 2023", "Edited text")
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("reviews with the same id should share a fingerprint")
	}
	if Fingerprint(a) == Fingerprint(review("102", "Jane", "May 2022", "Great stay!")) {
		t.Fatalf("different ids should not collide")
	}
}

func TestFingerprintFallsBackToText(t *testing.T) {
	a := review("", "Jane", "May 2022", "Great stay!")
	b := review("", " jane ", "may 2022", "great   stay")
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("normalized text should match: %s vs %s", Fingerprint(a), Fingerprint(b))
	}
	if Fingerprint(a) == Fingerprint(review("", "Jane", "May 2022", "Awful")) {
		t.Fatalf("different comments should not collide")
	}
	if len(Fingerprint(a)) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(Fingerprint(a)))
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Great stay!! ", "great stay"},
		{"Zoë's place,\nlovely", "zoë s place lovely"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeText(tt.in); got != tt.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
